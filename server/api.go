package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"collabtext/internal/liveview"
)

type API struct {
	store       Store
	broadcaster *Broadcaster
	limiter     *clientLimiter
}

func NewAPI(store Store, broadcaster *Broadcaster, limiter *clientLimiter) *API {
	return &API{store: store, broadcaster: broadcaster, limiter: limiter}
}

func newRouter(api *API, relay http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", relay)
	r.HandleFunc("/api/shared", api.create).Methods(http.MethodPost)
	r.HandleFunc("/api/shared/{token}", api.get).Methods(http.MethodGet)
	r.HandleFunc("/api/shared/{token}", api.replace).Methods(http.MethodPut)
	r.HandleFunc("/api/shared/{token}", api.patch).Methods(http.MethodPatch)
	r.HandleFunc("/api/shared/{token}", api.delete).Methods(http.MethodDelete)
	return r
}

func (a *API) get(w http.ResponseWriter, r *http.Request) {
	if !a.limiter.Allow(clientAddr(r)) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	token := mux.Vars(r)["token"]
	doc, err := a.store.Get(r.Context(), token)
	if err != nil {
		a.storeError(w, token, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Snapshot())
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind   string         `json:"kind"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	kind, err := liveview.ParseKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := a.store.Create(r.Context(), kind, body.Fields)
	if err != nil {
		a.storeError(w, "", err)
		return
	}
	glog.Infof("[api]created %s kind=%s\n", doc.Token, doc.Kind)
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) replace(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Fields == nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	doc, err := a.store.Replace(r.Context(), token, body.Fields)
	if err != nil {
		a.storeError(w, token, err)
		return
	}
	a.publish(r, token, liveview.FullReplace{Fields: doc.Fields, UpdatedAt: doc.UpdatedAt})
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) patch(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	var body struct {
		Field string `json:"field"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Field == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	doc, err := a.store.Patch(r.Context(), token, body.Field, body.Value)
	if err != nil {
		a.storeError(w, token, err)
		return
	}
	a.publish(r, token, liveview.FieldPatch{Field: body.Field, Value: body.Value, UpdatedAt: doc.UpdatedAt})
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) delete(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	doc, err := a.store.Delete(r.Context(), token)
	if err != nil {
		a.storeError(w, token, err)
		return
	}
	a.publish(r, token, liveview.DocumentDeleted{Reason: "owner_deleted", UpdatedAt: doc.UpdatedAt})
	w.WriteHeader(http.StatusNoContent)
}

// publish failures do not fail the request; the change is stored and viewers
// pick it up on their next join.
func (a *API) publish(r *http.Request, token string, update liveview.UpdateEvent) {
	if err := a.broadcaster.PublishUpdate(r.Context(), token, update); err != nil {
		glog.Errorf("[api]publish %s = %s\n", token, err)
	}
}

func (a *API) storeError(w http.ResponseWriter, token string, err error) {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidField):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		glog.Errorf("[api]%s store error = %s\n", token, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// clientLimiter rate limits fetches per client address.
type clientLimiter struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

const maxTrackedClients = 10000

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	return &clientLimiter{
		rate:     rate.Limit(perSecond),
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
	}
}

func (l *clientLimiter) Allow(addr string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[addr]
	if !ok {
		if maxTrackedClients <= len(l.limiters) {
			l.limiters = map[string]*rate.Limiter{}
		}
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[addr] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
