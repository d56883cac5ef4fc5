package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/signal-relay/internal/eventbus"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/transport"
)

// Manager keeps one logical connection to a relay hub alive.
type Manager interface {
	// Start begins connecting. It is a no-op unless the manager is Disconnected. Cancelling ctx
	// stops the manager.
	Start(ctx context.Context) error

	// Stop cancels any pending retry and closes the live transport. It waits for an in-flight
	// attempt to unwind until ctx is done.
	Stop(ctx context.Context) error

	// State returns the current state.
	State() State

	// WatchState returns a live stream of state changes.
	WatchState() *eventbus.Subscription[State]

	// Subscribe returns a live stream of received envelopes.
	Subscribe() *eventbus.Subscription[model.Envelope]

	// Stats returns current statistics.
	Stats() ManagerStats
}

// Option customizes a Manager.
type Option func(*manager)

// WithAfterFunc replaces the retry timer factory.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *manager) { m.afterFunc = fn }
}

// WithNegotiator replaces hub negotiation.
func WithNegotiator(fn Negotiator) Option {
	return func(m *manager) { m.negotiate = fn }
}

// WithBus mirrors state changes onto a local event bus as uiLog and connectionState events.
func WithBus(bus *eventbus.Bus) Option {
	return func(m *manager) { m.bus = bus }
}

// manager implements the Manager interface.
type manager struct {
	cfg        ManagerConfig
	transports []transport.Transport
	logger     *slog.Logger
	bus        *eventbus.Bus
	afterFunc  AfterFunc
	negotiate  Negotiator

	envelopes *eventbus.Stream[model.Envelope]
	states    *eventbus.Stream[State]

	mu        sync.Mutex
	state     State
	epoch     uint64 // bumped by Start, Stop and every connect attempt
	run       uint64 // bumped by Start
	failures  int
	timer     Timer
	session   transport.Session
	active    string
	abort     context.CancelFunc // cancels the in-flight attempt
	inflight  chan struct{}      // closed when the in-flight attempt returns
	stopWatch func() bool

	liveEpoch atomic.Uint64
	attempts  atomic.Int64
	connects  atomic.Int64
	received  atomic.Int64
}

// attempt is one connect attempt and the session it may produce.
type attempt struct {
	epoch   uint64
	dropped bool
	dropErr error
}

// NewManager creates a Connection Manager over the given transports. They are tried in the
// fixed preference order WebSockets, ServerSentEvents, LongPolling regardless of slice order.
func NewManager(cfg ManagerConfig, transports []transport.Transport, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultManagerConfig().ConnectTimeout
	}

	ordered := make([]transport.Transport, len(transports))
	copy(ordered, transports)
	sort.SliceStable(ordered, func(i, j int) bool {
		return transport.Rank(ordered[i].Name()) < transport.Rank(ordered[j].Name())
	})

	m := &manager{
		cfg:        cfg,
		transports: ordered,
		logger:     logger.With("component", "connection"),
		envelopes:  eventbus.NewStream[model.Envelope](),
		states:     eventbus.NewStream[State](),
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		negotiate: func(ctx context.Context, target transport.Target) (transport.NegotiateResponse, error) {
			return transport.Negotiate(ctx, http.DefaultClient, target)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins connecting.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Disconnected {
		return nil
	}

	m.run++
	run := m.run
	m.stopWatch = context.AfterFunc(ctx, func() {
		m.stop(context.Background(), run)
	})

	m.failures = 0
	m.logger.Info("connection manager started",
		"url", m.cfg.BaseURL+m.cfg.HubPath,
		"transports", len(m.transports),
	)
	m.setStateLocked(Connecting, "")
	m.attemptLocked()
	return nil
}

// Stop cancels retries and closes the connection. It never fails.
func (m *manager) Stop(ctx context.Context) error {
	return m.stop(ctx, 0)
}

// stop halts the manager. A non-zero run only stops that run.
func (m *manager) stop(ctx context.Context, run uint64) error {
	m.mu.Lock()
	if run != 0 && run != m.run {
		m.mu.Unlock()
		return nil
	}

	m.bumpEpochLocked()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.abort != nil {
		m.abort()
		m.abort = nil
	}
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	sess := m.session
	inflight := m.inflight
	m.session = nil
	m.failures = 0
	wasRunning := m.state != Disconnected
	m.setStateLocked(Disconnected, "")
	m.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			m.logger.Debug("close session", "error", err)
		}
	}

	if inflight != nil {
		select {
		case <-inflight:
		case <-ctx.Done():
			m.logger.Warn("stop timeout, abandoning connect attempt")
		}
	}

	if wasRunning {
		m.logger.Info("connection manager stopped")
	}
	return nil
}

// State returns the current state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WatchState returns a live stream of state changes.
func (m *manager) WatchState() *eventbus.Subscription[State] {
	return m.states.Subscribe()
}

// Subscribe returns a live stream of received envelopes.
func (m *manager) Subscribe() *eventbus.Subscription[model.Envelope] {
	return m.envelopes.Subscribe()
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	state, active := m.state, m.active
	m.mu.Unlock()

	return ManagerStats{
		State:     state,
		Transport: active,
		Attempts:  m.attempts.Load(),
		Connects:  m.connects.Load(),
		Envelopes: m.received.Load(),
	}
}

// attemptLocked starts one connect attempt in the background. Must be called with the lock held.
func (m *manager) attemptLocked() {
	m.bumpEpochLocked()
	a := &attempt{epoch: m.epoch}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	done := make(chan struct{})
	m.abort = cancel
	m.inflight = done
	m.attempts.Add(1)

	go func() {
		defer close(done)
		defer cancel()
		m.connect(ctx, a)
	}()
}

// connect runs negotiation and the transport handshakes, then applies the outcome if the
// attempt is still current.
func (m *manager) connect(ctx context.Context, a *attempt) {
	sess, name, err := m.dial(ctx, a)

	m.mu.Lock()
	if a.epoch != m.epoch {
		m.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
		return
	}
	defer m.mu.Unlock()

	m.abort = nil
	m.inflight = nil

	if err != nil {
		m.failLocked(err)
		return
	}

	m.session = sess
	m.failures = 0
	m.connects.Add(1)
	m.setStateLocked(Connected, name)

	// The session dropped before the outcome was applied.
	if a.dropped {
		m.dropLocked(a.dropErr)
	}
}

// dial negotiates and tries each offered transport in preference order.
func (m *manager) dial(ctx context.Context, a *attempt) (transport.Session, string, error) {
	target := transport.Target{BaseURL: m.cfg.BaseURL, HubPath: m.cfg.HubPath}

	nr, err := m.negotiate(ctx, target)
	if err != nil {
		return nil, "", fmt.Errorf("negotiate: %w", err)
	}
	target.ConnectionID = nr.ConnectionID

	lastErr := ErrNoTransport
	for _, t := range m.transports {
		name := t.Name()
		if !nr.Offers(name) {
			m.logger.Debug("transport not offered", "transport", name)
			continue
		}

		sess, err := t.Connect(ctx, target, m.handlers(a))
		if err == nil {
			return sess, name, nil
		}
		if !errors.Is(err, transport.ErrUnavailable) {
			return nil, "", fmt.Errorf("%s: %w", name, err)
		}

		m.logger.Info("transport unavailable, falling back", "transport", name, "error", err)
		lastErr = err
	}

	if errors.Is(lastErr, ErrNoTransport) {
		return nil, "", ErrNoTransport
	}
	return nil, "", fmt.Errorf("%w: %v", ErrNoTransport, lastErr)
}

// handlers binds session callbacks to an attempt. Callbacks from superseded attempts are no-ops.
func (m *manager) handlers(a *attempt) transport.Handlers {
	return transport.Handlers{
		OnEnvelope: func(env model.Envelope) {
			if m.liveEpoch.Load() != a.epoch {
				return
			}
			m.received.Add(1)
			m.envelopes.Publish(env)
		},
		OnClose: func(err error) {
			m.mu.Lock()
			defer m.mu.Unlock()

			if a.epoch != m.epoch {
				return
			}
			if m.state != Connected {
				a.dropped = true
				a.dropErr = err
				return
			}
			m.dropLocked(err)
		},
	}
}

// failLocked records a failed attempt and schedules the next one.
func (m *manager) failLocked(err error) {
	m.failures++
	m.logger.Warn("connect attempt failed",
		"failures", m.failures,
		"error", err,
	)
	m.scheduleLocked()
}

// dropLocked handles the loss of an established connection. The failure counter was reset by
// the successful connect, so backoff restarts from its first step.
func (m *manager) dropLocked(err error) {
	m.logger.Warn("connection lost", "transport", m.active, "error", err)
	m.session = nil
	m.setStateLocked(Reconnecting, "")
	m.scheduleLocked()
}

// scheduleLocked arms the retry timer for the current epoch.
func (m *manager) scheduleLocked() {
	delay := RetryDelay(m.failures)
	epoch := m.epoch

	m.timer = m.afterFunc(delay, func() {
		m.retry(epoch)
	})

	m.logger.Info("retry scheduled", "delay", delay, "state", m.state)
	if m.bus != nil {
		m.bus.Log(fmt.Sprintf("retrying connection in %s", delay))
	}
}

// retry is the timer callback. A fire that lost the race with Stop or Start finds a newer epoch
// and does nothing.
func (m *manager) retry(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return
	}
	m.timer = nil
	m.attemptLocked()
}

func (m *manager) bumpEpochLocked() {
	m.epoch++
	m.liveEpoch.Store(m.epoch)
}

// setStateLocked records a transition and publishes it.
func (m *manager) setStateLocked(s State, active string) {
	m.active = active
	if m.state == s {
		return
	}
	m.state = s
	m.states.Publish(s)

	m.logger.Info("connection state", "state", s, "transport", active)
	if m.bus != nil {
		m.bus.Publish(eventbus.KindConnectionState, StatePayload{State: s, Transport: active})
		msg := "connection " + s.String()
		if active != "" {
			msg += " via " + active
		}
		m.bus.Log(msg)
	}
}
