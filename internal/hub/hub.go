// Package hub serves the client-facing endpoints of a relay instance.
//
// A client first calls the negotiate endpoint to learn its connection id and the transports
// this instance offers, then connects with one of them:
//
//	GET  {path}/negotiate   {"connectionId": "...", "availableTransports": ["WebSockets", ...]}
//	GET  {path}             WebSocket upgrade, one JSON envelope per text frame
//	GET  {path}/sse         text/event-stream, one envelope per data line
//	GET  {path}/poll?id=    long poll, JSON array of envelopes; DELETE ends the session
//
// A disabled transport answers 404 so clients can fall back to the next one. Every accepted
// connection is attached to the registry and detached when it goes away.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/metrics"
	"github.com/rickgao/signal-relay/internal/registry"
)

// NegotiateResponse is the body returned by the negotiate endpoint.
type NegotiateResponse struct {
	ConnectionID        string   `json:"connectionId"`
	AvailableTransports []string `json:"availableTransports"`
}

// Hub owns the transport endpoints for one relay instance.
type Hub struct {
	cfg      config.HubConfig
	registry *registry.Registry
	metrics  *metrics.Relay
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[uuid.UUID]closer
	closed bool
	wg     sync.WaitGroup
}

type closer interface {
	registry.Conn
	close()
}

// New creates a hub. m may be nil.
func New(cfg config.HubConfig, reg *registry.Registry, m *metrics.Relay, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		registry: reg,
		metrics:  m,
		logger:   logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy belongs to the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]closer),
	}
}

// Register mounts the hub endpoints on mux.
func (h *Hub) Register(mux *http.ServeMux) {
	p := h.cfg.Path
	mux.HandleFunc("GET "+p+"/negotiate", h.ServeNegotiate)
	mux.HandleFunc("POST "+p+"/negotiate", h.ServeNegotiate)
	mux.HandleFunc("GET "+p, h.ServeWebSocket)
	mux.HandleFunc("GET "+p+"/sse", h.ServeSSE)
	mux.HandleFunc("GET "+p+"/poll", h.ServePoll)
	mux.HandleFunc("DELETE "+p+"/poll", h.ServePollClose)
}

// Run reaps idle long-poll sessions until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	interval := h.cfg.PollIdleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return nil
		case now := <-ticker.C:
			h.reapIdlePolls(now)
		}
	}
}

// Close closes every connection and waits for their pumps to exit. Endpoints answer 503
// afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]closer, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
		h.detach(c)
	}
	h.wg.Wait()
}

// ServeNegotiate hands out a connection id and the enabled transports.
func (h *Hub) ServeNegotiate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NegotiateResponse{
		ConnectionID:        uuid.NewString(),
		AvailableTransports: slices.Clone(h.cfg.Transports),
	})
}

// admit checks that transport is enabled and the hub is open, writing the error response if not.
func (h *Hub) admit(w http.ResponseWriter, transport string) bool {
	if !slices.Contains(h.cfg.Transports, transport) {
		writeError(w, http.StatusNotFound, "transport disabled")
		return false
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		writeError(w, http.StatusServiceUnavailable, "relay shutting down")
		return false
	}
	return true
}

// connectionID returns the id requested in the query, or a new one.
func connectionID(r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		return uuid.New(), true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// attach registers c and reserves pumps goroutines on the hub's wait group. It reports false,
// leaving c unregistered, once the hub is closed.
func (h *Hub) attach(c closer, pumps int) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.wg.Add(pumps)
	prev, replaced := h.conns[c.ID()]
	h.conns[c.ID()] = c
	h.mu.Unlock()

	if replaced {
		prev.close()
		h.gauge(prev.Transport(), -1)
	}
	h.registry.Attach(c)
	h.gauge(c.Transport(), 1)
	return true
}

// detach removes c if it is still the connection registered under its id.
func (h *Hub) detach(c closer) {
	h.mu.Lock()
	cur, ok := h.conns[c.ID()]
	if !ok || cur != c {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID())
	h.mu.Unlock()

	h.registry.Detach(c.ID())
	h.gauge(c.Transport(), -1)
}

func (h *Hub) lookup(id uuid.UUID) (closer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *Hub) gauge(transport string, delta float64) {
	if h.metrics != nil {
		h.metrics.Connections.WithLabelValues(transport).Add(delta)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
