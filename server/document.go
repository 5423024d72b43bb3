package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collabtext/internal/liveview"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidField     = errors.New("invalid field for document kind")
)

// Document is a shared item as stored by the relay. Token is the share token
// handed out in public links; ID is the stable document id.
type Document struct {
	Token     string         `json:"token"`
	ID        string         `json:"id"`
	Kind      liveview.Kind  `json:"kind"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt int64          `json:"updatedAt"`
}

func (d Document) Snapshot() liveview.Snapshot {
	return liveview.Snapshot{
		ID:        d.ID,
		Kind:      d.Kind,
		Fields:    d.Fields,
		UpdatedAt: d.UpdatedAt,
	}
}

type Store interface {
	Create(ctx context.Context, kind liveview.Kind, fields map[string]any) (Document, error)
	Get(ctx context.Context, token string) (Document, error)
	Replace(ctx context.Context, token string, fields map[string]any) (Document, error)
	Patch(ctx context.Context, token string, field string, value any) (Document, error)
	// Delete removes the document and returns it with the deletion time.
	Delete(ctx context.Context, token string) (Document, error)
	Close() error
}

// nextUpdatedAt keeps server timestamps strictly increasing per document even
// when the wall clock stalls or steps back.
func nextUpdatedAt(prev int64, now time.Time) int64 {
	ms := now.UnixMilli()
	if ms <= prev {
		return prev + 1
	}
	return ms
}

func validateFields(kind liveview.Kind, fields map[string]any) error {
	for name := range fields {
		if !kind.ValidField(name) {
			return fmt.Errorf("%w: %s has no field %q", ErrInvalidField, kind, name)
		}
	}
	return nil
}

func replaceFields(doc Document, fields map[string]any, now time.Time) (Document, error) {
	if err := validateFields(doc.Kind, fields); err != nil {
		return Document{}, err
	}
	doc.Fields = make(map[string]any, len(fields))
	for name, value := range fields {
		doc.Fields[name] = value
	}
	doc.UpdatedAt = nextUpdatedAt(doc.UpdatedAt, now)
	return doc, nil
}

func patchField(doc Document, field string, value any, now time.Time) (Document, error) {
	if !doc.Kind.ValidField(field) {
		return Document{}, fmt.Errorf("%w: %s has no field %q", ErrInvalidField, doc.Kind, field)
	}
	fields := make(map[string]any, len(doc.Fields)+1)
	for name, v := range doc.Fields {
		fields[name] = v
	}
	fields[field] = value
	doc.Fields = fields
	doc.UpdatedAt = nextUpdatedAt(doc.UpdatedAt, now)
	return doc, nil
}
