// Package hub is a development support backend: the REST API and websocket
// push endpoint the console talks to, backed by the sqlite store.
package hub

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/store"
)

const maxBody = 1 << 20

// Options configures a Hub.
type Options struct {
	// Token, when set, is required as a bearer token on every request.
	Token string
	// Agent names the operator whose presence is recorded.
	Agent string
}

// Hub serves the support backend API.
type Hub struct {
	db     *store.DB
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a hub over an open, migrated store.
func New(db *store.DB, opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Agent == "" {
		opts.Agent = "operator"
	}
	return &Hub{
		db:      db,
		opts:    opts,
		logger:  logger.Named("hub"),
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler for the REST API and /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations", h.listConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.listMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.sendMessage)
	mux.HandleFunc("PUT /api/conversations/{id}/read", h.putReadState)
	mux.HandleFunc("POST /api/conversations/{id}/close", h.closeConversation)
	mux.HandleFunc("POST /api/conversations/{id}/inbound", h.inbound)
	mux.HandleFunc("POST /api/messages/{id}/status", h.updateStatus)
	mux.HandleFunc("PUT /api/agent/presence", h.putPresence)
	mux.HandleFunc("GET /ws", h.serveWS)
	return h.authorize(mux)
}

// Close drops every push connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.cancel()
	}
}

func (h *Hub) authorize(next http.Handler) http.Handler {
	if h.opts.Token == "" {
		return next
	}
	want := []byte("Bearer " + h.opts.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

// storeError writes the response for a store failure.
func (h *Hub) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, strings.TrimSpace(op+": not found"))
		return
	}
	h.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}
