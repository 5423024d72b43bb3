// Package session keeps one viewer attached to the live feed of one shared
// document. It joins on every (re)connect, feeds inbound updates through
// liveview.Apply, and reports connectivity as a LiveStatus instead of errors.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"collabtext/internal/liveview"
	"collabtext/internal/presence"
	"collabtext/internal/wire"
)

type Settings struct {
	// ws:// or wss:// endpoint of the relay
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// a connection with no frame or pong for this long is dropped
	ReadTimeout  time.Duration
	PingInterval time.Duration

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func DefaultSettings(url string) *Settings {
	return &Settings{
		URL:              url,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      30 * time.Second,
		PingInterval:     10 * time.Second,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
	}
}

// Session is the handle returned by Open.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	token    string
	settings *Settings
	dialer   *websocket.Dialer

	// cleared by Close; every callback checks it before touching state
	alive atomic.Bool

	stateLock sync.Mutex
	view      liveview.View
	conn      *websocket.Conn

	presence *presence.Tracker
	events   *Emitter

	done chan struct{}
}

// Open attaches to the live feed of token, starting from the fetched view.
// It never fails synchronously: connection problems show up as a Stale view
// while the session keeps reconnecting in the background.
func Open(ctx context.Context, settings *Settings, token string, initial liveview.View) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		ctx:      cancelCtx,
		cancel:   cancel,
		token:    token,
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		view:     initial.Clone().WithStatus(liveview.Connecting),
		presence: presence.NewTracker(),
		events:   NewEmitter(),
		done:     make(chan struct{}),
	}
	s.alive.Store(true)
	go s.run()
	return s
}

func (s *Session) Token() string {
	return s.token
}

// View returns a copy of the current view.
func (s *Session) View() liveview.View {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.view.Clone()
}

func (s *Session) Presence() int {
	return s.presence.Count()
}

func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// Done is closed when the session loop has exited, either after Close or
// after the document was deleted.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops event processing immediately. It is safe to call more than once.
func (s *Session) Close() {
	if !s.alive.CompareAndSwap(true, false) {
		return
	}
	s.cancel()

	s.stateLock.Lock()
	conn := s.conn
	view := s.view.Clone()
	s.stateLock.Unlock()
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.settings.WriteTimeout),
		)
		conn.Close()
	}
	glog.Infof("[s]close %s\n", s.token)
	s.events.emit(Event{Type: EventClosed, View: view})
}

func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = s.settings.ReconnectInitial
	reconnect.MaxInterval = s.settings.ReconnectMax
	// keep trying for as long as the session is open
	reconnect.MaxElapsedTime = 0
	reconnect.Reset()

	for {
		s.emitState(EventConnecting, "")
		joined := s.connect()

		if !s.alive.Load() {
			return
		}
		if s.View().Status == liveview.Deleted {
			glog.Infof("[s]%s deleted, not reconnecting\n", s.token)
			return
		}
		s.disconnected()

		if joined {
			reconnect.Reset()
		}
		wait := reconnect.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		glog.V(2).Infof("[s]reconnect %s in %s\n", s.token, wait)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connect runs one connection until it drops. It reports whether the relay
// acknowledged the join.
func (s *Session) connect() (joined bool) {
	ws, _, err := s.dialer.DialContext(s.ctx, s.settings.URL, s.settings.Header)
	if err != nil {
		glog.Infof("[s]connect %s error = %s\n", s.token, err)
		return false
	}
	defer ws.Close()

	s.stateLock.Lock()
	if !s.alive.Load() {
		s.stateLock.Unlock()
		return false
	}
	s.conn = ws
	s.stateLock.Unlock()
	defer func() {
		s.stateLock.Lock()
		s.conn = nil
		s.stateLock.Unlock()
	}()

	join, err := wire.Encode(wire.EventJoin, wire.Join{Token: s.token})
	if err != nil {
		glog.Errorf("[s]encode join %s = %s\n", s.token, err)
		return false
	}
	ws.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
		glog.Infof("[s]join %s error = %s\n", s.token, err)
		return false
	}
	glog.V(2).Infof("[s]join %s->\n", s.token)

	handleCtx, handleCancel := context.WithCancel(s.ctx)
	defer handleCancel()

	go func() {
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(s.settings.PingInterval):
				err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.settings.WriteTimeout))
				if err != nil {
					return
				}
			}
		}
	}()

	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		return nil
	})

	for {
		ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if s.alive.Load() {
				glog.Infof("[s]%s<- error = %s\n", s.token, err)
			}
			return joined
		}
		if messageType != websocket.TextMessage {
			glog.V(2).Infof("[s]other=%d %s<-\n", messageType, s.token)
			continue
		}
		ack, stop := s.handle(message)
		joined = joined || ack
		if stop {
			return joined
		}
	}
}

// handle applies one inbound frame. ack is set on a join acknowledgement; stop
// is set when no further frames should be read.
func (s *Session) handle(frame []byte) (ack bool, stop bool) {
	if !s.alive.Load() {
		return false, true
	}

	m, err := wire.Decode(frame)
	if err != nil {
		glog.Warningf("[s]%s<- drop frame = %s\n", s.token, err)
		return false, false
	}

	switch m.Event {
	case wire.EventJoined:
		var j wire.Join
		if err := json.Unmarshal(m.Data, &j); err == nil && j.Token != "" && j.Token != s.token {
			glog.Warningf("[s]%s<- join ack for other token %s\n", s.token, j.Token)
			return false, false
		}
		if !s.setStatus(liveview.Live) {
			return false, true
		}
		glog.Infof("[s]joined %s\n", s.token)
		s.emitState(EventJoined, "")
		return true, false

	case wire.EventViewerCount:
		var n int
		if err := json.Unmarshal(m.Data, &n); err != nil {
			glog.Warningf("[s]%s<- bad viewer count = %s\n", s.token, err)
			return false, false
		}
		if s.setPresence(n) {
			s.emitState(EventPresenceChanged, "")
		}
		return false, false

	case wire.EventDocumentUpdated:
		update, err := liveview.DecodeUpdate(m.Data)
		if err != nil {
			glog.Warningf("[s]%s<- drop update = %s\n", s.token, err)
			return false, false
		}
		if noop, ok := update.(liveview.Noop); ok {
			glog.V(2).Infof("[s]%s<- ignore update type %s\n", s.token, noop.Type)
			return false, false
		}

		s.stateLock.Lock()
		if !s.alive.Load() {
			s.stateLock.Unlock()
			return false, true
		}
		before := s.view
		s.view = liveview.Apply(s.view, update)
		after := s.view
		s.stateLock.Unlock()

		if before.Status != liveview.Deleted && after.Status == liveview.Deleted {
			glog.Infof("[s]%s deleted = %s\n", s.token, after.DeleteReason)
			s.emitState(EventDeleted, after.DeleteReason)
			return false, true
		}
		if viewChanged(before, after) {
			s.emitState(EventViewChanged, "")
		}
		return false, false

	case wire.EventError:
		var notice wire.ErrorNotice
		if err := json.Unmarshal(m.Data, &notice); err != nil {
			notice.Message = string(m.Data)
		}
		glog.Infof("[s]%s<- notice = %s\n", s.token, notice.Message)
		s.emitState(EventNotice, notice.Message)
		return false, false

	default:
		glog.V(2).Infof("[s]%s<- ignore event %s\n", s.token, m.Event)
		return false, false
	}
}

func (s *Session) disconnected() {
	s.stateLock.Lock()
	if !s.alive.Load() {
		s.stateLock.Unlock()
		return
	}
	s.view = s.view.WithStatus(liveview.Stale)
	s.presence.Reset()
	s.stateLock.Unlock()
	s.emitState(EventDisconnected, "")
}

// setStatus and setPresence report false once the session is closed, and
// leave the state untouched.
func (s *Session) setStatus(status liveview.LiveStatus) bool {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if !s.alive.Load() {
		return false
	}
	s.view = s.view.WithStatus(status)
	return true
}

func (s *Session) setPresence(n int) bool {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if !s.alive.Load() {
		return false
	}
	return s.presence.SetCount(n)
}

// viewChanged is false when Apply returned the view it was given.
func viewChanged(before, after liveview.View) bool {
	return before.Status != after.Status ||
		before.UpdatedAt != after.UpdatedAt ||
		reflect.ValueOf(before.Fields).Pointer() != reflect.ValueOf(after.Fields).Pointer()
}

func (s *Session) emitState(t EventType, message string) {
	if !s.alive.Load() {
		return
	}
	s.events.emit(Event{
		Type:     t,
		View:     s.View(),
		Presence: s.presence.Count(),
		Message:  message,
	})
}
