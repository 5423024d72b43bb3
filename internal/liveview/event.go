package liveview

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Update type discriminators carried in a document-updated payload.
const (
	TypeFull    = "FULL"
	TypeField   = "FIELD"
	TypeDeleted = "DELETED"
)

var ErrMalformedUpdate = errors.New("malformed update")

// UpdateEvent is one inbound change to a shared document. The set of variants
// is closed: FullReplace, FieldPatch, DocumentDeleted and Noop.
type UpdateEvent interface {
	// Timestamp is the server time of the change in ms since epoch.
	Timestamp() int64
	isUpdateEvent()
}

// FullReplace is an authoritative snapshot of every field.
type FullReplace struct {
	Fields    map[string]any `json:"fields"`
	UpdatedAt int64          `json:"updatedAt"`
}

// FieldPatch changes a single field.
type FieldPatch struct {
	Field     string `json:"field"`
	Value     any    `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

// DocumentDeleted means the document is gone. It is terminal for the view.
type DocumentDeleted struct {
	Reason    string `json:"reason"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Noop stands in for update types this client does not understand.
type Noop struct {
	Type string
}

func (e FullReplace) Timestamp() int64     { return e.UpdatedAt }
func (e FieldPatch) Timestamp() int64      { return e.UpdatedAt }
func (e DocumentDeleted) Timestamp() int64 { return e.UpdatedAt }
func (e Noop) Timestamp() int64            { return 0 }

func (FullReplace) isUpdateEvent()     {}
func (FieldPatch) isUpdateEvent()      {}
func (DocumentDeleted) isUpdateEvent() {}
func (Noop) isUpdateEvent()            {}

// Envelope is the wire shape of a document-updated payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeUpdate turns a document-updated payload into an UpdateEvent.
// Unknown types decode to Noop. Bodies that do not match their type return
// an error wrapping ErrMalformedUpdate.
func DecodeUpdate(raw []byte) (UpdateEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	switch env.Type {
	case TypeFull:
		var e FullReplace
		if err := decodeData(env.Data, &e); err != nil {
			return nil, err
		}
		if e.Fields == nil {
			return nil, fmt.Errorf("%w: FULL without fields", ErrMalformedUpdate)
		}
		return e, nil
	case TypeField:
		var e FieldPatch
		if err := decodeData(env.Data, &e); err != nil {
			return nil, err
		}
		if e.Field == "" {
			return nil, fmt.Errorf("%w: FIELD without field name", ErrMalformedUpdate)
		}
		return e, nil
	case TypeDeleted:
		var e DocumentDeleted
		if len(env.Data) > 0 {
			if err := decodeData(env.Data, &e); err != nil {
				return nil, err
			}
		}
		return e, nil
	default:
		return Noop{Type: env.Type}, nil
	}
}

// EncodeUpdate is the inverse of DecodeUpdate, used by the relay server.
func EncodeUpdate(e UpdateEvent) ([]byte, error) {
	var typ string
	switch e.(type) {
	case FullReplace:
		typ = TypeFull
	case FieldPatch:
		typ = TypeField
	case DocumentDeleted:
		typ = TypeDeleted
	default:
		return nil, fmt.Errorf("cannot encode %T", e)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedUpdate)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return nil
}
