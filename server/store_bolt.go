package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"collabtext/internal/liveview"
)

var documentsBucket = []byte("shared_documents")

// BoltStore keeps documents in a single bbolt file, for relays that run
// without Postgres.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Create(ctx context.Context, kind liveview.Kind, fields map[string]any) (Document, error) {
	doc := Document{
		Token: uuid.NewString(),
		ID:    uuid.NewString(),
		Kind:  kind,
	}
	doc, err := replaceFields(doc, fields, s.now())
	if err != nil {
		return Document{}, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, doc)
	})
	return doc, err
}

func (s *BoltStore) Get(ctx context.Context, token string) (Document, error) {
	var doc Document
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		doc, err = get(tx, token)
		return err
	})
	return doc, err
}

func (s *BoltStore) Replace(ctx context.Context, token string, fields map[string]any) (Document, error) {
	return s.update(token, func(doc Document) (Document, error) {
		return replaceFields(doc, fields, s.now())
	})
}

func (s *BoltStore) Patch(ctx context.Context, token string, field string, value any) (Document, error) {
	return s.update(token, func(doc Document) (Document, error) {
		return patchField(doc, field, value, s.now())
	})
}

func (s *BoltStore) Delete(ctx context.Context, token string) (Document, error) {
	var doc Document
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		doc, err = get(tx, token)
		if err != nil {
			return err
		}
		doc.UpdatedAt = nextUpdatedAt(doc.UpdatedAt, s.now())
		return tx.Bucket(documentsBucket).Delete([]byte(token))
	})
	return doc, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) update(token string, change func(Document) (Document, error)) (Document, error) {
	var doc Document
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := get(tx, token)
		if err != nil {
			return err
		}
		doc, err = change(current)
		if err != nil {
			return err
		}
		return put(tx, doc)
	})
	return doc, err
}

func get(tx *bolt.Tx, token string) (Document, error) {
	raw := tx.Bucket(documentsBucket).Get([]byte(token))
	if raw == nil {
		return Document{}, ErrDocumentNotFound
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", token, err)
	}
	return doc, nil
}

func put(tx *bolt.Tx, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return tx.Bucket(documentsBucket).Put([]byte(doc.Token), raw)
}
