package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rickgao/signal-relay/internal/metrics"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/version"
)

const maxPushBody = 1 << 20

// Push endpoint paths. The second is the path producers use behind the gateway.
const (
	PushPath      = "/push-event"
	PushAliasPath = "/api/signalr-node/push-event"
)

// ServePush accepts {event, payload} (field names are case-insensitive) and relays it.
func (s *Service) ServePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	env, err := model.DecodeEnvelope(body)
	if err != nil {
		s.countPush(metrics.ResultMalformed)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := s.Push(r.Context(), env)
	if err != nil {
		if errors.Is(err, model.ErrMalformedEnvelope) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// ServeHealth reports liveness. It does not depend on the backplane, which may be down while
// local delivery still works.
func (s *Service) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeVersion reports build information.
func (s *Service) ServeVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

// ServeConnections lists live connection counts per transport.
func (s *Service) ServeConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"origin":      s.origin,
		"count":       s.registry.Count(),
		"transports":  s.registry.CountByTransport(),
		"pending_pub": s.PendingPublishes(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
