package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const hubWriteTimeout = 5 * time.Second

// Client is one connected UI tab. Tabs only receive; anything they send is
// discarded.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps the latest render state and fans it out to every connected tab.
// Publishes coalesce: a slow tab sees the newest state, not every state.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	latestLock sync.Mutex
	latest     []byte
	notify     chan struct{}

	done chan struct{}
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Publish replaces the latest state. It never blocks.
func (h *Hub) Publish(state []byte) {
	h.latestLock.Lock()
	h.latest = state
	h.latestLock.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *Hub) current() []byte {
	h.latestLock.Lock()
	defer h.latestLock.Unlock()
	return h.latest
}

func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			glog.Infof("[hub]client registered. Total clients: %d\n", len(h.clients))
			if message := h.current(); message != nil {
				h.deliver(client, message)
			}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				glog.Infof("[hub]client unregistered. Total clients: %d\n", len(h.clients))
			}
		case <-h.notify:
			message := h.current()
			for client := range h.clients {
				h.deliver(client, message)
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[hub]upgrade error = %s\n", err)
		return
	}
	client := &Client{conn: conn, send: make(chan []byte, 16)}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump(hub)
}

func (c *Client) readPump(hub *Hub) {
	defer func() {
		select {
		case hub.unregister <- c:
		case <-hub.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for {
		message, ok := <-c.send
		c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
