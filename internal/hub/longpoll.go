package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/model"
)

const maxPollBatch = 256

// ServePoll answers a long poll. The first poll for an id opens the session and returns an empty
// batch immediately. Later polls wait up to the poll timeout for envelopes.
func (h *Hub) ServePoll(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, config.TransportLongPolling) {
		return
	}
	if r.URL.Query().Get("id") == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	id, ok := connectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	existing, found := h.lookup(id)
	if !found {
		c := newConn(id, config.TransportLongPolling)
		if !h.attach(c, 0) {
			writeError(w, http.StatusServiceUnavailable, "relay shutting down")
			return
		}
		writeJSON(w, http.StatusOK, []model.Envelope{})
		return
	}
	c, ok := existing.(*conn)
	if !ok || c.transport != config.TransportLongPolling {
		writeError(w, http.StatusConflict, "connection id in use by another transport")
		return
	}
	c.touch()

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.PollTimeout)
	defer cancel()

	if !c.out.Wait(ctx) {
		if c.out.Closed() {
			writeError(w, http.StatusGone, "connection closed")
			return
		}
		writeJSON(w, http.StatusOK, []model.Envelope{})
		return
	}

	batch := c.out.DrainTo(maxPollBatch)
	if batch == nil {
		batch = []model.Envelope{}
	}
	c.touch()
	writeJSON(w, http.StatusOK, batch)
}

// ServePollClose ends a long-poll session.
func (h *Hub) ServePollClose(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(r)
	if !ok || r.URL.Query().Get("id") == "" {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	if c, found := h.lookup(id); found && c.Transport() == config.TransportLongPolling {
		c.close()
		h.detach(c)
	}
	w.WriteHeader(http.StatusNoContent)
}

// reapIdlePolls detaches long-poll sessions that have not polled within the idle TTL.
func (h *Hub) reapIdlePolls(now time.Time) {
	h.mu.Lock()
	var idle []*conn
	for _, cl := range h.conns {
		c, ok := cl.(*conn)
		if ok && c.transport == config.TransportLongPolling && c.idleSince(now) > h.cfg.PollIdleTTL {
			idle = append(idle, c)
		}
	}
	h.mu.Unlock()

	for _, c := range idle {
		h.logger.Info("reaping idle poll session", "conn_id", c.id)
		c.close()
		h.detach(c)
	}
}
