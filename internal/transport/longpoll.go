package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/signal-relay/internal/model"
)

// LongPollingTransport repeatedly polls the hub for batches of envelopes.
type LongPollingTransport struct {
	client      *http.Client
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewLongPolling creates a long-poll transport. pollTimeout bounds each poll request and must
// exceed the server's poll wait.
func NewLongPolling(client *http.Client, pollTimeout time.Duration, logger *slog.Logger) *LongPollingTransport {
	if client == nil {
		client = &http.Client{}
	}
	if pollTimeout <= 0 {
		pollTimeout = 40 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LongPollingTransport{
		client:      client,
		pollTimeout: pollTimeout,
		logger:      logger.With("transport", LongPolling),
	}
}

// Name implements Transport.
func (t *LongPollingTransport) Name() string { return LongPolling }

// Connect opens the poll session with an initial poll, then keeps polling in the background.
func (t *LongPollingTransport) Connect(ctx context.Context, target Target, h Handlers) (Session, error) {
	if target.ConnectionID == "" {
		return nil, fmt.Errorf("%s requires a negotiated connection id", LongPolling)
	}
	u, err := target.URL("/poll")
	if err != nil {
		return nil, err
	}

	hsCtx, hsCancel := context.WithTimeout(ctx, defaultHandshakeTimeout)
	defer hsCancel()
	batch, err := t.poll(hsCtx, u)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &pollSession{
		transport: t,
		url:       u,
		ctx:       loopCtx,
		cancel:    cancel,
		h:         h,
		guard:     newCloseGuard(),
	}
	s.deliver(batch)
	go s.loop()

	t.logger.Debug("long polling connected", "url", u)
	return s, nil
}

func (t *LongPollingTransport) poll(ctx context.Context, u string) ([]model.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, t.pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(LongPolling, resp.StatusCode)
	}

	var batch []model.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode poll batch: %w", err)
	}
	return batch, nil
}

type pollSession struct {
	transport *LongPollingTransport
	url       string
	ctx       context.Context
	cancel    context.CancelFunc
	h         Handlers
	guard     *closeGuard
}

// Close stops polling and tells the hub to end the session.
func (s *pollSession) Close() error {
	if !s.guard.markClosed() {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.url, nil)
	if err != nil {
		return err
	}
	// Best effort: the hub reaps idle sessions anyway.
	if resp, err := s.transport.client.Do(req); err == nil {
		resp.Body.Close()
	}
	return nil
}

func (s *pollSession) loop() {
	for {
		batch, err := s.transport.poll(s.ctx, s.url)
		if err != nil {
			s.guard.report(s.h.OnClose, err)
			return
		}
		s.deliver(batch)
	}
}

func (s *pollSession) deliver(batch []model.Envelope) {
	for _, env := range batch {
		if err := env.Validate(); err != nil {
			s.transport.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}
		if s.h.OnEnvelope != nil {
			s.h.OnEnvelope(env)
		}
	}
}
