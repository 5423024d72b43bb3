package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabtext/internal/liveview"
)

const schema = `
CREATE TABLE IF NOT EXISTS shared_documents (
	token      TEXT PRIMARY KEY,
	id         UUID NOT NULL,
	kind       TEXT NOT NULL,
	fields     JSONB NOT NULL,
	updated_at BIGINT NOT NULL
)`

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseUrl string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseUrl)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Create(ctx context.Context, kind liveview.Kind, fields map[string]any) (Document, error) {
	doc := Document{
		Token: uuid.NewString(),
		ID:    uuid.NewString(),
		Kind:  kind,
	}
	doc, err := replaceFields(doc, fields, s.now())
	if err != nil {
		return Document{}, err
	}
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return Document{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO shared_documents (token, id, kind, fields, updated_at) VALUES ($1, $2, $3, $4::jsonb, $5)`,
		doc.Token, doc.ID, string(doc.Kind), string(raw), doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) Get(ctx context.Context, token string) (Document, error) {
	return scanDocument(token, s.pool.QueryRow(ctx,
		`SELECT id::text, kind, fields, updated_at FROM shared_documents WHERE token = $1`,
		token,
	))
}

func (s *PostgresStore) Replace(ctx context.Context, token string, fields map[string]any) (Document, error) {
	return s.update(ctx, token, func(doc Document) (Document, error) {
		return replaceFields(doc, fields, s.now())
	})
}

func (s *PostgresStore) Patch(ctx context.Context, token string, field string, value any) (Document, error) {
	return s.update(ctx, token, func(doc Document) (Document, error) {
		return patchField(doc, field, value, s.now())
	})
}

func (s *PostgresStore) Delete(ctx context.Context, token string) (Document, error) {
	doc, err := scanDocument(token, s.pool.QueryRow(ctx,
		`DELETE FROM shared_documents WHERE token = $1 RETURNING id::text, kind, fields, updated_at`,
		token,
	))
	if err != nil {
		return Document{}, err
	}
	doc.UpdatedAt = nextUpdatedAt(doc.UpdatedAt, s.now())
	return doc, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) update(ctx context.Context, token string, change func(Document) (Document, error)) (Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, err
	}
	defer tx.Rollback(ctx)

	current, err := scanDocument(token, tx.QueryRow(ctx,
		`SELECT id::text, kind, fields, updated_at FROM shared_documents WHERE token = $1 FOR UPDATE`,
		token,
	))
	if err != nil {
		return Document{}, err
	}
	doc, err := change(current)
	if err != nil {
		return Document{}, err
	}
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return Document{}, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE shared_documents SET fields = $2::jsonb, updated_at = $3 WHERE token = $1`,
		token, string(raw), doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func scanDocument(token string, row pgx.Row) (Document, error) {
	doc := Document{Token: token}
	var kind string
	var raw []byte
	if err := row.Scan(&doc.ID, &kind, &raw, &doc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, fmt.Errorf("read document %s: %w", token, err)
	}
	doc.Kind = liveview.Kind(kind)
	if err := json.Unmarshal(raw, &doc.Fields); err != nil {
		return Document{}, fmt.Errorf("decode fields %s: %w", token, err)
	}
	return doc, nil
}
