// Package wire defines the event frames exchanged between a viewer and the
// relay over a shared-document socket. Every frame is a JSON text message
// {"event": name, "data": payload}.
package wire

import (
	"encoding/json"
	"fmt"
)

const (
	EventJoin            = "join-shared-document"
	EventJoined          = "joined-shared-document"
	EventViewerCount     = "viewer-count"
	EventDocumentUpdated = "document-updated"
	EventError           = "error"
)

type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Join struct {
	Token string `json:"token"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

func Encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Message{Event: event, Data: raw})
}

func Decode(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if m.Event == "" {
		return Message{}, fmt.Errorf("decode frame: missing event name")
	}
	return m, nil
}
