// Package registry tracks the client connections attached to this relay instance.
package registry

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/rickgao/signal-relay/internal/model"
)

// Conn is a live client connection as seen by the relay.
type Conn interface {
	// ID is unique for the lifetime of the process.
	ID() uuid.UUID
	// Transport names the transport that carries this connection.
	Transport() string
	// Send queues env for delivery without blocking. It returns false once the connection
	// has closed.
	Send(env model.Envelope) bool
}

// Registry is the set of connections currently attached to this instance. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]Conn
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[uuid.UUID]Conn),
		logger: logger.With("component", "registry"),
	}
}

// Attach adds c. Attaching an id twice replaces the earlier entry.
func (r *Registry) Attach(c Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	n := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("connection attached",
		"conn_id", c.ID(),
		"transport", c.Transport(),
		"total", n,
	)
}

// Detach removes the connection with the given id. It reports whether it was present.
func (r *Registry) Detach(id uuid.UUID) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	delete(r.conns, id)
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Info("connection detached",
			"conn_id", id,
			"transport", c.Transport(),
			"total", n,
		)
	}
	return ok
}

// Get returns the connection with the given id.
func (r *Registry) Get(id uuid.UUID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Broadcast hands env to every attached connection exactly once and returns how many accepted
// it. Sends happen outside the lock on a snapshot, so connections attached during a broadcast
// may or may not receive it.
func (r *Registry) Broadcast(env model.Envelope) int {
	snapshot := r.Snapshot()

	delivered := 0
	for _, c := range snapshot {
		if c.Send(env) {
			delivered++
			continue
		}
		r.logger.Debug("send on closed connection", "conn_id", c.ID())
	}
	return delivered
}

// Snapshot returns the attached connections.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of attached connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByTransport returns the number of attached connections per transport.
func (r *Registry) CountByTransport() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for _, c := range r.conns {
		out[c.Transport()]++
	}
	return out
}
