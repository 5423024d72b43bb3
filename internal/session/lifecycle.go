package session

import (
	"sync"

	"collabtext/internal/liveview"
)

type EventType int

const (
	EventConnecting EventType = iota
	EventJoined
	EventDisconnected
	EventNotice
	EventViewChanged
	EventPresenceChanged
	EventDeleted
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventJoined:
		return "joined"
	case EventDisconnected:
		return "disconnected"
	case EventNotice:
		return "notice"
	case EventViewChanged:
		return "view_changed"
	case EventPresenceChanged:
		return "presence_changed"
	case EventDeleted:
		return "deleted"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered to lifecycle subscribers. View and Presence are
// snapshots taken when the event was emitted.
type Event struct {
	Type     EventType
	View     liveview.View
	Presence int
	Message  string
}

// Emitter fans lifecycle events out to subscribers. Each session owns its own
// emitter; there is no process-wide registry.
type Emitter struct {
	mu     sync.Mutex
	nextId int
	subs   map[int]func(Event)
}

func NewEmitter() *Emitter {
	return &Emitter{subs: map[int]func(Event){}}
}

// Subscribe registers fn and returns a function that removes it.
// fn runs on the session goroutine and must not block.
func (e *Emitter) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextId
	e.nextId += 1
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Emitter) emit(event Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for id := 0; id < e.nextId; id += 1 {
		if fn, ok := e.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
