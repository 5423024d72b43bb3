package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store Store
	redis *miniredis.Miniredis
	rdb   *redis.Client
}

func newTestServer(t *testing.T, limiter *clientLimiter) *testServer {
	return newTestServerWithStore(t, limiter, nil)
}

// newTestServerWithStore lets wrap stand between the handlers and the bolt store.
func newTestServerWithStore(t *testing.T, limiter *clientLimiter, wrap func(Store) Store) *testServer {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store, err := NewBoltStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var backing Store = store
	if wrap != nil {
		backing = wrap(store)
	}

	if limiter == nil {
		limiter = newClientLimiter(1000, 1000)
	}
	broadcaster := NewBroadcaster(rdb)
	router := newRouter(NewAPI(backing, broadcaster, limiter), NewRelay(backing, rdb, broadcaster))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, store: backing, redis: mr, rdb: rdb}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func (s *testServer) do(t *testing.T, method string, path string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) create(t *testing.T, kind string, fields map[string]any) Document {
	resp := s.do(t, http.MethodPost, "/api/shared", map[string]any{"kind": kind, "fields": fields})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var doc Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc
}
