package liveview

import "fmt"

// Kind is the type of a shared item. It never changes for the life of a view.
type Kind string

const (
	KindList       Kind = "list"
	KindNote       Kind = "note"
	KindWhiteboard Kind = "whiteboard"
)

// fieldSchema lists the keys a view of each kind may hold in Fields.
var fieldSchema = map[Kind]map[string]bool{
	KindList:       {"title": true, "items": true, "category": true, "colorValue": true},
	KindNote:       {"title": true, "content": true, "category": true, "colorValue": true},
	KindWhiteboard: {"title": true, "elements": true, "category": true, "colorValue": true},
}

// ParseKind validates a kind received over the wire.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := fieldSchema[k]; !ok {
		return "", fmt.Errorf("unknown document kind %q", s)
	}
	return k, nil
}

// ValidField reports whether field is part of the schema for k.
func (k Kind) ValidField(field string) bool {
	return fieldSchema[k][field]
}

// LiveStatus is the connectivity state of a view, independent of its content.
type LiveStatus int

const (
	Connecting LiveStatus = iota
	Live
	Stale
	Deleted
)

func (s LiveStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Stale:
		return "stale"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("LiveStatus(%d)", int(s))
	}
}

func (s LiveStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a full copy of a document as returned by the initial fetch.
type Snapshot struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt int64          `json:"updatedAt"`
}

// View is the render-ready state of one shared document.
// UpdatedAt is in milliseconds since epoch, as assigned by the server.
type View struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Fields       map[string]any `json:"fields"`
	UpdatedAt    int64          `json:"updatedAt"`
	Status       LiveStatus     `json:"liveStatus"`
	DeleteReason string         `json:"deleteReason,omitempty"`
}

// NewView starts a Connecting view from a fetched snapshot.
func NewView(snapshot Snapshot) View {
	return View{
		ID:        snapshot.ID,
		Kind:      snapshot.Kind,
		Fields:    filterFields(snapshot.Kind, snapshot.Fields),
		UpdatedAt: snapshot.UpdatedAt,
		Status:    Connecting,
	}
}

// WithStatus returns a copy of v carrying status. Deleted is terminal and is
// never left.
func (v View) WithStatus(status LiveStatus) View {
	if v.Status == Deleted {
		return v
	}
	v.Status = status
	return v
}

// Clone returns a copy that shares no map with v.
func (v View) Clone() View {
	v.Fields = cloneFields(v.Fields)
	return v
}

func filterFields(kind Kind, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		if kind.ValidField(name) {
			out[name] = value
		}
	}
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		out[name] = value
	}
	return out
}
