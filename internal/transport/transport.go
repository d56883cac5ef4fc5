// Package transport implements the client side of the hub transports: WebSockets,
// ServerSentEvents and LongPolling.
//
// A transport performs its handshake in Connect and then delivers envelopes through the
// Handlers callbacks until the session drops or is closed. OnClose fires at most once, and only
// for drops the caller did not ask for.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/signal-relay/internal/model"
)

// ErrUnavailable means the server does not offer the transport. Callers may fall back to the
// next one; any other Connect error is a failed attempt.
var ErrUnavailable = errors.New("transport unavailable")

// ErrStaleConnection is reported when a session stops hearing from the server.
var ErrStaleConnection = errors.New("connection stale")

// Transport names, in preference order.
const (
	WebSockets       = "WebSockets"
	ServerSentEvents = "ServerSentEvents"
	LongPolling      = "LongPolling"
)

const defaultHandshakeTimeout = 10 * time.Second

// Handlers receive session events. Both are called from the session's own goroutine.
type Handlers struct {
	OnEnvelope func(model.Envelope)
	OnClose    func(error)
}

// Target addresses a hub.
type Target struct {
	// BaseURL is the relay's http(s) origin, e.g. http://localhost:6001.
	BaseURL string
	// HubPath is the hub mount point, e.g. /hubs/signal.
	HubPath string
	// ConnectionID is the id handed out by negotiation.
	ConnectionID string
}

// URL returns the hub URL with suffix appended and the connection id in the query.
func (t Target) URL(suffix string) (string, error) {
	u, err := url.Parse(strings.TrimRight(t.BaseURL, "/") + t.HubPath + suffix)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	if t.ConnectionID != "" {
		q := u.Query()
		q.Set("id", t.ConnectionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Transport is one way of reaching a hub.
type Transport interface {
	Name() string
	Connect(ctx context.Context, target Target, h Handlers) (Session, error)
}

// Session is an established connection.
type Session interface {
	// Close ends the session. OnClose is not called for it.
	Close() error
}

// NegotiateResponse mirrors the hub negotiate body.
type NegotiateResponse struct {
	ConnectionID        string   `json:"connectionId"`
	AvailableTransports []string `json:"availableTransports"`
}

// Offers reports whether the server offers the named transport.
func (n NegotiateResponse) Offers(name string) bool {
	for _, t := range n.AvailableTransports {
		if t == name {
			return true
		}
	}
	return false
}

// Negotiate asks the hub for a connection id and its transports.
func Negotiate(ctx context.Context, client *http.Client, target Target) (NegotiateResponse, error) {
	target.ConnectionID = ""
	u, err := target.URL("/negotiate")
	if err != nil {
		return NegotiateResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return NegotiateResponse{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return NegotiateResponse{}, fmt.Errorf("negotiate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NegotiateResponse{}, fmt.Errorf("negotiate: HTTP %d", resp.StatusCode)
	}

	var nr NegotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return NegotiateResponse{}, fmt.Errorf("decode negotiate response: %w", err)
	}
	return nr, nil
}

// statusError converts a failed handshake status into an error, wrapping ErrUnavailable when the
// server says the transport is not served.
func statusError(transport string, code int) error {
	switch code {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return fmt.Errorf("%w: %s handshake returned HTTP %d", ErrUnavailable, transport, code)
	default:
		return fmt.Errorf("%s handshake returned HTTP %d", transport, code)
	}
}

// closeGuard tracks the local-close flag and makes OnClose fire at most once. ended closes on
// the first local close or reported loss, whichever comes first.
type closeGuard struct {
	closed   atomic.Bool
	reported atomic.Bool
	ended    chan struct{}
	endOnce  sync.Once
}

func newCloseGuard() *closeGuard {
	return &closeGuard{ended: make(chan struct{})}
}

func (g *closeGuard) end() {
	g.endOnce.Do(func() { close(g.ended) })
}

// markClosed records a local close. It reports false if already closed.
func (g *closeGuard) markClosed() bool {
	if g.closed.Swap(true) {
		return false
	}
	g.end()
	return true
}

// report calls onClose once, unless the session was closed locally.
func (g *closeGuard) report(onClose func(error), err error) {
	g.end()
	if g.closed.Load() || g.reported.Swap(true) {
		return
	}
	if onClose != nil {
		onClose(err)
	}
}

// Rank returns the preference position of a transport name. Unknown names sort last.
func Rank(name string) int {
	switch name {
	case WebSockets:
		return 0
	case ServerSentEvents:
		return 1
	case LongPolling:
		return 2
	default:
		return 3
	}
}

// Options tunes the transports built by Build.
type Options struct {
	WebSocket   WebSocketConfig
	PollTimeout time.Duration
	// HTTPClient is shared by the SSE and long-poll transports. It must not set an overall
	// timeout.
	HTTPClient *http.Client
}

// Build constructs the named transports.
func Build(names []string, opts Options, logger *slog.Logger) ([]Transport, error) {
	if opts.WebSocket == (WebSocketConfig{}) {
		opts.WebSocket = DefaultWebSocketConfig()
	}

	out := make([]Transport, 0, len(names))
	for _, name := range names {
		switch name {
		case WebSockets:
			out = append(out, NewWebSocket(opts.WebSocket, logger))
		case ServerSentEvents:
			out = append(out, NewServerSentEvents(opts.HTTPClient, logger))
		case LongPolling:
			out = append(out, NewLongPolling(opts.HTTPClient, opts.PollTimeout, logger))
		default:
			return nil, fmt.Errorf("unknown transport %q", name)
		}
	}
	return out, nil
}
