package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/liveview"
)

func serve(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", 2*time.Second)
}

func TestFetchSnapshot(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/shared/tok-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"doc-1","kind":"list","fields":{"title":"Groceries","items":["milk"]},"updatedAt":100}`))
	})

	snapshot, err := c.Fetch(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", snapshot.ID)
	assert.Equal(t, liveview.KindList, snapshot.Kind)
	assert.Equal(t, "Groceries", snapshot.Fields["title"])
	assert.Equal(t, []any{"milk"}, snapshot.Fields["items"])
	assert.Equal(t, int64(100), snapshot.UpdatedAt)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
		show   liveview.Presentation
	}{
		{"not found", http.StatusNotFound, ``, liveview.ErrNotFound, liveview.NotAvailable},
		{"rate limited", http.StatusTooManyRequests, ``, liveview.ErrRateLimited, liveview.RateLimited},
		{"server error", http.StatusInternalServerError, `oops`, liveview.ErrUnavailable, liveview.Unavailable},
		{"bad body", http.StatusOK, `{`, liveview.ErrUnavailable, liveview.Unavailable},
		{"bad kind", http.StatusOK, `{"id":"x","kind":"spreadsheet"}`, liveview.ErrUnavailable, liveview.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := serve(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "30")
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Fetch(context.Background(), "tok-1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.show, liveview.PresentationFor(err, liveview.View{}))

			var fetchErr *Error
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.status, fetchErr.StatusCode)
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, 30*time.Second, fetchErr.RetryAfter)
			}
		})
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	c := NewClient(server.URL, time.Second)
	server.Close()

	_, err := c.Fetch(context.Background(), "tok-1")
	assert.True(t, errors.Is(err, liveview.ErrUnavailable))
	assert.False(t, errors.Is(err, liveview.ErrNotFound))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}
