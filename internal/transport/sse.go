package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/signal-relay/internal/model"
)

// ServerSentEventsTransport streams envelopes over a text/event-stream response.
type ServerSentEventsTransport struct {
	client           *http.Client
	handshakeTimeout time.Duration
	logger           *slog.Logger
}

// NewServerSentEvents creates an SSE transport. client must not carry an overall timeout since
// the response body stays open for the session's lifetime.
func NewServerSentEvents(client *http.Client, logger *slog.Logger) *ServerSentEventsTransport {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerSentEventsTransport{
		client:           client,
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           logger.With("transport", ServerSentEvents),
	}
}

// Name implements Transport.
func (t *ServerSentEventsTransport) Name() string { return ServerSentEvents }

// Connect opens the stream. The session is live once response headers arrive.
func (t *ServerSentEventsTransport) Connect(ctx context.Context, target Target, h Handlers) (Session, error) {
	u, err := target.URL("/sse")
	if err != nil {
		return nil, err
	}

	// The stream outlives ctx, which only bounds the handshake.
	streamCtx, cancel := context.WithCancel(context.Background())
	stopHandshake := context.AfterFunc(ctx, cancel)
	timer := time.AfterFunc(t.handshakeTimeout, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	timer.Stop()
	stopHandshake()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sse connect: %w", err)
	}
	if streamCtx.Err() != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("sse handshake: %w", streamCtx.Err())
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, statusError(ServerSentEvents, resp.StatusCode)
	}

	s := &sseSession{
		logger: t.logger,
		body:   resp.Body,
		cancel: cancel,
		h:      h,
		guard:  newCloseGuard(),
	}
	go s.readLoop()

	t.logger.Debug("sse connected", "url", u)
	return s, nil
}

type sseSession struct {
	logger *slog.Logger
	body   io.ReadCloser
	cancel context.CancelFunc
	h      Handlers
	guard  *closeGuard
}

// Close cancels the stream.
func (s *sseSession) Close() error {
	if !s.guard.markClosed() {
		return nil
	}
	s.cancel()
	return nil
}

// readLoop parses data lines. Comment lines are keepalives.
func (s *sseSession) readLoop() {
	defer s.body.Close()
	defer s.cancel()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		env, err := model.DecodeEnvelope([]byte(data))
		if err != nil {
			s.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		if s.h.OnEnvelope != nil {
			s.h.OnEnvelope(env)
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	if errors.Is(err, context.Canceled) {
		err = fmt.Errorf("sse stream cancelled: %w", err)
	}
	s.guard.report(s.h.OnClose, err)
}
