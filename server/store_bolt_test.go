package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/liveview"
)

func newBoltStore(t *testing.T) *BoltStore {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newBoltStore(t)

	doc, err := store.Create(ctx, liveview.KindNote, map[string]any{"title": "Ideas", "content": "..."})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Token)
	assert.NotEmpty(t, doc.ID)
	assert.NotEqual(t, doc.Token, doc.ID)

	got, err := store.Get(ctx, doc.Token)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	patched, err := store.Patch(ctx, doc.Token, "title", "Better ideas")
	require.NoError(t, err)
	assert.Equal(t, "Better ideas", patched.Fields["title"])
	assert.Equal(t, "...", patched.Fields["content"])
	assert.Greater(t, patched.UpdatedAt, doc.UpdatedAt)

	replaced, err := store.Replace(ctx, doc.Token, map[string]any{"title": "Fresh"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Fresh"}, replaced.Fields)
	assert.Greater(t, replaced.UpdatedAt, patched.UpdatedAt)

	deleted, err := store.Delete(ctx, doc.Token)
	require.NoError(t, err)
	assert.Greater(t, deleted.UpdatedAt, replaced.UpdatedAt)

	_, err = store.Get(ctx, doc.Token)
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
	_, err = store.Delete(ctx, doc.Token)
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
}

func TestBoltStoreRejectsInvalidFields(t *testing.T) {
	ctx := context.Background()
	store := newBoltStore(t)

	_, err := store.Create(ctx, liveview.KindList, map[string]any{"content": "lists have items"})
	assert.True(t, errors.Is(err, ErrInvalidField))

	doc, err := store.Create(ctx, liveview.KindList, map[string]any{"title": "t"})
	require.NoError(t, err)

	_, err = store.Patch(ctx, doc.Token, "elements", []any{})
	assert.True(t, errors.Is(err, ErrInvalidField))

	_, err = store.Patch(ctx, "missing", "title", "x")
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
}

func TestBoltStoreUpdatedAtStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	store := newBoltStore(t)
	frozen := time.UnixMilli(1_000_000)
	store.now = func() time.Time { return frozen }

	doc, err := store.Create(ctx, liveview.KindList, map[string]any{"title": "t"})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), doc.UpdatedAt)

	for i := 1; i <= 3; i++ {
		doc, err = store.Patch(ctx, doc.Token, "title", i)
		require.NoError(t, err)
		assert.Equal(t, int64(1_000_000+i), doc.UpdatedAt)
	}
}

func TestNextUpdatedAt(t *testing.T) {
	assert.Equal(t, int64(500), nextUpdatedAt(100, time.UnixMilli(500)))
	assert.Equal(t, int64(101), nextUpdatedAt(100, time.UnixMilli(100)))
	assert.Equal(t, int64(101), nextUpdatedAt(100, time.UnixMilli(50)))
}
