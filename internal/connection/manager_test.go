package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/signal-relay/internal/eventbus"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/transport"
)

var errRefused = errors.New("connection refused")

// fakeClock records scheduled retries instead of sleeping.
type fakeClock struct {
	scheduled chan *fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{scheduled: make(chan *fakeTimer, 64)}
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

// fire runs the callback unless the timer was stopped.
func (t *fakeTimer) fire() {
	if !t.stopped.Load() {
		t.f()
	}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{delay: d, f: f}
	c.scheduled <- t
	return t
}

func (c *fakeClock) next(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case timer := <-c.scheduled:
		return timer
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for a retry to be scheduled")
		return nil
	}
}

func (c *fakeClock) expectNone(t *testing.T) {
	t.Helper()
	select {
	case timer := <-c.scheduled:
		t.Fatalf("unexpected retry scheduled after %s", timer.delay)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeTransport returns scripted Connect results; nil entries succeed. Once the script runs
// out, the last entry repeats.
type fakeTransport struct {
	name string

	mu       sync.Mutex
	script   []error
	calls    int
	sessions []*fakeSession
}

func (t *fakeTransport) Name() string { return t.name }

func (t *fakeTransport) Connect(ctx context.Context, target transport.Target, h transport.Handlers) (transport.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if len(t.script) > 0 {
		i := t.calls
		if i >= len(t.script) {
			i = len(t.script) - 1
		}
		err = t.script[i]
	}
	t.calls++
	if err != nil {
		return nil, err
	}
	s := &fakeSession{h: h}
	t.sessions = append(t.sessions, s)
	return s, nil
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *fakeTransport) session(i int) *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[i]
}

type fakeSession struct {
	h      transport.Handlers
	closed atomic.Bool
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) deliver(env model.Envelope) { s.h.OnEnvelope(env) }

func (s *fakeSession) drop(err error) { s.h.OnClose(err) }

func offering(names ...string) Negotiator {
	return func(ctx context.Context, target transport.Target) (transport.NegotiateResponse, error) {
		return transport.NegotiateResponse{ConnectionID: "conn-1", AvailableTransports: names}, nil
	}
}

func newTestManager(clock *fakeClock, negotiate Negotiator, transports ...transport.Transport) Manager {
	return NewManager(DefaultManagerConfig(), transports, nil,
		WithAfterFunc(clock.AfterFunc),
		WithNegotiator(negotiate),
	)
}

func waitState(t *testing.T, m Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %s, want %s", m.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 5000 * time.Millisecond},
		{3, 10000 * time.Millisecond},
		{4, 10000 * time.Millisecond},
		{50, 10000 * time.Millisecond},
		{-1, 1000 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := RetryDelay(tt.failures); got != tt.want {
			t.Errorf("RetryDelay(%d) = %s, want %s", tt.failures, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Disconnected: "Disconnected",
		Connecting:   "Connecting",
		Connected:    "Connected",
		Reconnecting: "Reconnecting",
		State(42):    "Unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestManager_BackoffSchedule(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets, script: []error{errRefused}}
	m := newTestManager(clock, offering(transport.WebSockets), ws)
	defer m.Stop(context.Background())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// After N consecutive failures the next wait is RetryDelay(N).
	want := []time.Duration{2000, 5000, 10000, 10000, 10000}
	for i, ms := range want {
		timer := clock.next(t)
		if timer.delay != ms*time.Millisecond {
			t.Errorf("retry %d delay = %s, want %dms", i+1, timer.delay, ms)
		}
		if got := m.State(); got != Connecting {
			t.Errorf("State() = %s, want Connecting while retrying", got)
		}
		timer.fire()
	}
	clock.next(t)

	if got := ws.callCount(); got != len(want)+1 {
		t.Errorf("Connect calls = %d, want %d", got, len(want)+1)
	}
}

func TestManager_DropRestartsBackoff(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets, script: []error{errRefused, errRefused, errRefused, nil, errRefused, nil}}
	m := newTestManager(clock, offering(transport.WebSockets), ws)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	for _, ms := range []time.Duration{2000, 5000, 10000} {
		timer := clock.next(t)
		if timer.delay != ms*time.Millisecond {
			t.Fatalf("delay = %s, want %dms", timer.delay, ms)
		}
		timer.fire()
	}
	waitState(t, m, Connected)

	ws.session(0).drop(errors.New("server went away"))
	waitState(t, m, Reconnecting)

	timer := clock.next(t)
	if timer.delay != 1000*time.Millisecond {
		t.Fatalf("delay after drop = %s, want 1s", timer.delay)
	}
	timer.fire()

	// Still reconnecting after a failed reconnect; the counter grows again.
	timer = clock.next(t)
	if timer.delay != 2000*time.Millisecond {
		t.Fatalf("delay after failed reconnect = %s, want 2s", timer.delay)
	}
	if got := m.State(); got != Reconnecting {
		t.Errorf("State() = %s, want Reconnecting", got)
	}
	timer.fire()
	waitState(t, m, Connected)
}

func TestManager_StopCancelsPendingRetry(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets, script: []error{errRefused}}
	m := newTestManager(clock, offering(transport.WebSockets), ws)

	m.Start(context.Background())
	timer := clock.next(t)

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !timer.stopped.Load() {
		t.Error("pending retry timer was not stopped")
	}

	// A callback that already fired before Stop ran must still be a no-op.
	timer.f()
	clock.expectNone(t)

	if got := ws.callCount(); got != 1 {
		t.Errorf("Connect calls = %d, want 1", got)
	}
	if got := m.State(); got != Disconnected {
		t.Errorf("State() = %s, want Disconnected", got)
	}
}

func TestManager_StartAfterStopResetsCounter(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets, script: []error{errRefused}}
	m := newTestManager(clock, offering(transport.WebSockets), ws)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	clock.next(t).fire()
	if timer := clock.next(t); timer.delay != 5000*time.Millisecond {
		t.Fatalf("delay = %s, want 5s", timer.delay)
	}

	m.Stop(context.Background())
	m.Start(context.Background())

	if timer := clock.next(t); timer.delay != 2000*time.Millisecond {
		t.Errorf("delay after restart = %s, want 2s", timer.delay)
	}
}

func TestManager_StartIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets}
	m := newTestManager(clock, offering(transport.WebSockets), ws)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	waitState(t, m, Connected)
	m.Start(context.Background())

	if got := ws.callCount(); got != 1 {
		t.Errorf("Connect calls = %d, want 1", got)
	}
}

func TestManager_FallsBackWhenUnavailable(t *testing.T) {
	clock := newFakeClock()
	unavailable := errors.Join(transport.ErrUnavailable, errors.New("HTTP 404"))
	ws := &fakeTransport{name: transport.WebSockets, script: []error{unavailable}}
	sse := &fakeTransport{name: transport.ServerSentEvents}
	lp := &fakeTransport{name: transport.LongPolling}

	// Slice order does not matter; preference order does.
	m := newTestManager(clock, offering(transport.WebSockets, transport.ServerSentEvents, transport.LongPolling), lp, sse, ws)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	waitState(t, m, Connected)

	if got := m.Stats().Transport; got != transport.ServerSentEvents {
		t.Errorf("Transport = %q, want %q", got, transport.ServerSentEvents)
	}
	if ws.callCount() != 1 || sse.callCount() != 1 || lp.callCount() != 0 {
		t.Errorf("calls ws=%d sse=%d lp=%d, want 1/1/0", ws.callCount(), sse.callCount(), lp.callCount())
	}
}

func TestManager_NoFallbackOnOtherErrors(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets, script: []error{errRefused}}
	sse := &fakeTransport{name: transport.ServerSentEvents}
	m := newTestManager(clock, offering(transport.WebSockets, transport.ServerSentEvents), ws, sse)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	clock.next(t)

	if got := sse.callCount(); got != 0 {
		t.Errorf("SSE Connect calls = %d, want 0", got)
	}
	if got := m.State(); got != Connecting {
		t.Errorf("State() = %s, want Connecting", got)
	}
}

func TestManager_SkipsTransportsNotOffered(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets}
	lp := &fakeTransport{name: transport.LongPolling}
	m := newTestManager(clock, offering(transport.LongPolling), ws, lp)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	waitState(t, m, Connected)

	if ws.callCount() != 0 {
		t.Errorf("WebSockets Connect calls = %d, want 0", ws.callCount())
	}
	if got := m.Stats().Transport; got != transport.LongPolling {
		t.Errorf("Transport = %q, want %q", got, transport.LongPolling)
	}
}

func TestManager_NothingOfferedFailsAttempt(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets}
	m := newTestManager(clock, offering(), ws)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	if timer := clock.next(t); timer.delay != 2000*time.Millisecond {
		t.Errorf("delay = %s, want 2s", timer.delay)
	}
	if ws.callCount() != 0 {
		t.Errorf("Connect calls = %d, want 0", ws.callCount())
	}
}

func TestManager_NegotiateFailureSchedulesRetry(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets}
	failing := func(ctx context.Context, target transport.Target) (transport.NegotiateResponse, error) {
		return transport.NegotiateResponse{}, errRefused
	}
	m := newTestManager(clock, failing, ws)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	clock.next(t)
	if ws.callCount() != 0 {
		t.Errorf("Connect calls = %d, want 0", ws.callCount())
	}
}

func TestManager_DeliversEnvelopes(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets}
	m := newTestManager(clock, offering(transport.WebSockets), ws)
	defer m.Stop(context.Background())

	sub := m.Subscribe()
	defer sub.Close()

	m.Start(context.Background())
	waitState(t, m, Connected)

	env := model.MustEnvelope(model.EventAMQPMessage, map[string]string{"q": "orders"})
	ws.session(0).deliver(env)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := sub.Next(ctx)
	if !ok {
		t.Fatal("no envelope received")
	}
	if !got.Equal(env) {
		t.Errorf("received %s, want %s", got, env)
	}
	if n := m.Stats().Envelopes; n != 1 {
		t.Errorf("Stats().Envelopes = %d, want 1", n)
	}
}

func TestManager_StaleSessionIgnored(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets}
	m := newTestManager(clock, offering(transport.WebSockets), ws)

	sub := m.Subscribe()
	defer sub.Close()

	m.Start(context.Background())
	waitState(t, m, Connected)
	old := ws.session(0)

	m.Stop(context.Background())
	if !old.closed.Load() {
		t.Error("Stop did not close the live session")
	}

	old.deliver(model.MustEnvelope("late", nil))
	old.drop(errors.New("late drop"))

	clock.expectNone(t)
	if got := m.State(); got != Disconnected {
		t.Errorf("State() = %s, want Disconnected", got)
	}
	if n := sub.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0 envelopes from a stale session", n)
	}
}

func TestManager_DropDuringHandshake(t *testing.T) {
	clock := newFakeClock()
	ws := &dropOnConnect{}
	m := newTestManager(clock, offering(transport.WebSockets), ws)
	defer m.Stop(context.Background())

	states := m.WatchState()
	defer states.Close()

	m.Start(context.Background())

	if timer := clock.next(t); timer.delay != 1000*time.Millisecond {
		t.Errorf("delay = %s, want 1s", timer.delay)
	}
	want := []State{Connecting, Connected, Reconnecting}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, w := range want {
		got, ok := states.Next(ctx)
		if !ok || got != w {
			t.Fatalf("state = %s (%v), want %s", got, ok, w)
		}
	}
}

// dropOnConnect reports a drop before Connect returns.
type dropOnConnect struct{}

func (dropOnConnect) Name() string { return transport.WebSockets }

func (dropOnConnect) Connect(ctx context.Context, target transport.Target, h transport.Handlers) (transport.Session, error) {
	h.OnClose(errors.New("closed during handshake"))
	return &fakeSession{h: h}, nil
}

func TestManager_StopsWhenContextCancelled(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets}
	m := newTestManager(clock, offering(transport.WebSockets), ws)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	waitState(t, m, Connected)

	cancel()
	waitState(t, m, Disconnected)
	if !ws.session(0).closed.Load() {
		t.Error("session not closed after context cancellation")
	}
}

func TestManager_PublishesToBus(t *testing.T) {
	clock := newFakeClock()
	ws := &fakeTransport{name: transport.WebSockets}
	bus := eventbus.New(nil)
	defer bus.Close()

	events := bus.Subscribe()
	defer events.Close()

	m := NewManager(DefaultManagerConfig(), []transport.Transport{ws}, nil,
		WithAfterFunc(clock.AfterFunc),
		WithNegotiator(offering(transport.WebSockets)),
		WithBus(bus),
	)
	defer m.Stop(context.Background())

	m.Start(context.Background())
	waitState(t, m, Connected)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []StatePayload
	var logs int
	for len(got) < 2 {
		ev, ok := events.Next(ctx)
		if !ok {
			t.Fatalf("bus events: got %d state events, want 2", len(got))
		}
		switch ev.Kind {
		case eventbus.KindConnectionState:
			got = append(got, ev.Payload.(StatePayload))
		case eventbus.KindUILog:
			logs++
		}
	}

	if got[0].State != Connecting || got[1].State != Connected {
		t.Errorf("states = %v, want Connecting then Connected", got)
	}
	if got[1].Transport != transport.WebSockets {
		t.Errorf("Transport = %q, want %q", got[1].Transport, transport.WebSockets)
	}
	if logs < 1 {
		t.Error("expected a uiLog event for the state change")
	}
}
