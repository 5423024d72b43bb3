package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"collabtext/internal/liveview"
	"collabtext/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const relayWriteTimeout = 5 * time.Second

// Relay attaches viewer sockets to the redis channel of the document they join.
type Relay struct {
	store       Store
	rdb         *redis.Client
	broadcaster *Broadcaster
}

func NewRelay(store Store, rdb *redis.Client, broadcaster *Broadcaster) *Relay {
	return &Relay{store: store, rdb: rdb, broadcaster: broadcaster}
}

// viewerConn serializes writes; the redis forwarder and the read loop both send.
type viewerConn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *viewerConn) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *viewerConn) sendEvent(event string, data any) error {
	frame, err := wire.Encode(event, data)
	if err != nil {
		return err
	}
	return c.send(frame)
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		glog.Infof("[r]upgrade error = %s\n", err)
		return
	}
	defer ws.Close()

	c := &viewerConn{id: uuid.NewString(), ws: ws}
	glog.V(2).Infof("[r]%s connected\n", c.id)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	var joinedToken string
	var pubsub *redis.PubSub
	defer func() {
		if pubsub != nil {
			pubsub.Close()
		}
		if joinedToken != "" {
			if _, err := r.broadcaster.Leave(context.Background(), joinedToken); err != nil {
				glog.Errorf("[r]%s leave %s = %s\n", c.id, joinedToken, err)
			}
		}
	}()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			glog.V(2).Infof("[r]%s disconnected: %s\n", c.id, err)
			return
		}
		m, err := wire.Decode(frame)
		if err != nil {
			c.sendEvent(wire.EventError, wire.ErrorNotice{Message: "malformed frame"})
			continue
		}

		switch m.Event {
		case wire.EventJoin:
			if joinedToken != "" {
				c.sendEvent(wire.EventError, wire.ErrorNotice{Message: "already joined"})
				continue
			}
			var j wire.Join
			if err := json.Unmarshal(m.Data, &j); err != nil || j.Token == "" {
				c.sendEvent(wire.EventError, wire.ErrorNotice{Message: "join requires a token"})
				continue
			}
			ps, err := r.join(ctx, c, j.Token)
			if errors.Is(err, ErrDocumentNotFound) {
				continue
			}
			if err != nil {
				// the viewer reconnects and joins again
				ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "join failed"),
					time.Now().Add(relayWriteTimeout),
				)
				return
			}
			pubsub = ps
			joinedToken = j.Token
		default:
			c.sendEvent(wire.EventError, wire.ErrorNotice{Message: "unknown event " + m.Event})
		}
	}
}

// join subscribes before reading the document so no update published in
// between is lost, then acks and sends the current state. A missing document
// is reported to the viewer as deleted and returns ErrDocumentNotFound; any
// other error means the socket should be dropped.
func (r *Relay) join(ctx context.Context, c *viewerConn, token string) (*redis.PubSub, error) {
	pubsub := r.rdb.Subscribe(ctx, channelName(token))
	if _, err := pubsub.Receive(ctx); err != nil {
		glog.Errorf("[r]%s subscribe %s = %s\n", c.id, token, err)
		pubsub.Close()
		c.sendEvent(wire.EventError, wire.ErrorNotice{Message: "temporarily unavailable"})
		return nil, err
	}

	doc, err := r.store.Get(ctx, token)
	if err != nil {
		pubsub.Close()
		if errors.Is(err, ErrDocumentNotFound) {
			glog.Infof("[r]%s join %s: not found\n", c.id, token)
			r.sendUpdate(c, liveview.DocumentDeleted{Reason: "not_found"})
		} else {
			glog.Errorf("[r]%s join %s = %s\n", c.id, token, err)
			c.sendEvent(wire.EventError, wire.ErrorNotice{Message: "temporarily unavailable"})
		}
		return nil, err
	}

	if err := c.sendEvent(wire.EventJoined, wire.Join{Token: token}); err != nil {
		pubsub.Close()
		return nil, err
	}
	r.sendUpdate(c, liveview.FullReplace{Fields: doc.Fields, UpdatedAt: doc.UpdatedAt})

	go func() {
		for msg := range pubsub.Channel() {
			glog.V(2).Infof("[r]%s<-redis %s\n", c.id, token)
			if err := c.send([]byte(msg.Payload)); err != nil {
				glog.Infof("[r]%s write error = %s\n", c.id, err)
				return
			}
		}
	}()

	if _, err := r.broadcaster.Join(ctx, token); err != nil {
		glog.Errorf("[r]%s count %s = %s\n", c.id, token, err)
	}
	glog.Infof("[r]%s joined %s\n", c.id, token)
	return pubsub, nil
}

func (r *Relay) sendUpdate(c *viewerConn, update liveview.UpdateEvent) {
	raw, err := liveview.EncodeUpdate(update)
	if err != nil {
		glog.Errorf("[r]%s encode update = %s\n", c.id, err)
		return
	}
	c.sendEvent(wire.EventDocumentUpdated, json.RawMessage(raw))
}
