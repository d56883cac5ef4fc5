package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/model"
)

// ServeSSE streams envelopes as server-sent events. Each event is named after the envelope and
// its data line carries the full envelope JSON.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, config.TransportServerSentEvents) {
		return
	}
	id, ok := connectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	c := newConn(id, config.TransportServerSentEvents)
	if !h.attach(c, 1) {
		writeError(w, http.StatusServiceUnavailable, "relay shutting down")
		return
	}
	defer func() {
		h.detach(c)
		c.close()
		h.wg.Done()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Connection-Id", id.String())
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.PingInterval)
		env, ok := c.out.Pop(ctx)
		cancel()

		if r.Context().Err() != nil {
			return
		}
		if !ok {
			if c.out.Closed() {
				return
			}
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
			continue
		}

		data, err := json.Marshal(env)
		if err != nil {
			h.logger.Error("failed to marshal envelope", "error", err)
			continue
		}
		// The name is also inside data; an unsafe one is left out of the event line.
		if model.ValidName(env.Name()) {
			_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Name(), data)
		} else {
			_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}
