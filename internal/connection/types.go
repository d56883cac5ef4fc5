package connection

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/signal-relay/internal/transport"
)

// Errors
var (
	ErrNoTransport = errors.New("no transport available")
)

// State is the Manager's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var retryDelays = [...]time.Duration{
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	5000 * time.Millisecond,
	10000 * time.Millisecond,
}

// RetryDelay returns the wait before the next connect attempt after the given number of
// consecutive failures.
func RetryDelay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures >= len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[failures]
}

// StatePayload is the payload of connectionState bus events.
type StatePayload struct {
	State     State  `json:"state"`
	Transport string `json:"transport,omitempty"`
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	BaseURL        string        // Relay origin (e.g., http://localhost:6001)
	HubPath        string        // Hub mount point (e.g., /hubs/signal)
	ConnectTimeout time.Duration // Bounds negotiation plus the transport handshakes of one attempt
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BaseURL:        "http://localhost:6001",
		HubPath:        "/hubs/signal",
		ConnectTimeout: 15 * time.Second,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State     State
	Transport string
	Attempts  int64
	Connects  int64
	Envelopes int64
}

// Timer is a pending retry.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. The default is time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// Negotiator asks the hub for a connection id and its transports.
type Negotiator func(ctx context.Context, target transport.Target) (transport.NegotiateResponse, error)
