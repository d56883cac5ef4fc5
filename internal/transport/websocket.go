package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rickgao/signal-relay/internal/model"
)

// WebSocketConfig holds WebSocket transport settings.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: defaultHandshakeTimeout,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// WebSocket is the full-duplex transport.
type WebSocket struct {
	cfg    WebSocketConfig
	logger *slog.Logger
}

// NewWebSocket creates a WebSocket transport.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{cfg: cfg, logger: logger.With("transport", WebSockets)}
}

// Name implements Transport.
func (t *WebSocket) Name() string { return WebSockets }

// Connect dials the hub and starts the read and heartbeat loops.
func (t *WebSocket) Connect(ctx context.Context, target Target, h Handlers) (Session, error) {
	u, err := target.URL("")
	if err != nil {
		return nil, err
	}
	u = "ws" + strings.TrimPrefix(u, "http")

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, statusError(WebSockets, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	s := &wsSession{
		cfg:        t.cfg,
		logger:     t.logger,
		conn:       conn,
		h:          h,
		guard:      newCloseGuard(),
		lastPingAt: time.Now(),

		heartbeatDone: make(chan struct{}),
	}

	// Server pings keep the session fresh; answer with a pong.
	conn.SetPingHandler(func(data string) error {
		s.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	go s.readLoop()
	go s.heartbeatLoop()

	t.logger.Debug("websocket connected", "url", u)
	return s, nil
}

type wsSession struct {
	cfg    WebSocketConfig
	logger *slog.Logger
	conn   *websocket.Conn
	h      Handlers
	guard  *closeGuard

	writeMu sync.Mutex

	mu         sync.Mutex
	lastPingAt time.Time

	heartbeatDone chan struct{}
}

func (s *wsSession) touch() {
	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

// Close sends a normal close frame and closes the socket.
func (s *wsSession) Close() error {
	if !s.guard.markClosed() {
		return nil
	}

	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	return s.conn.Close()
}

// readLoop decodes one envelope per text frame.
func (s *wsSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.drop(err)
			return
		}
		s.touch()

		env, err := model.DecodeEnvelope(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if s.h.OnEnvelope != nil {
			s.h.OnEnvelope(env)
		}
	}
}

// heartbeatLoop pings the server and detects a stale connection. It stops once the session
// is closed or dropped.
func (s *wsSession) heartbeatLoop() {
	defer close(s.heartbeatDone)
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.guard.ended:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			s.mu.Lock()
			lastPing := s.lastPingAt
			s.mu.Unlock()

			if time.Since(lastPing) > s.cfg.PingTimeout {
				s.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", s.cfg.PingTimeout,
				)
				s.drop(ErrStaleConnection)
				return
			}
		}
	}
}

// drop reports a server-side loss and releases the socket.
func (s *wsSession) drop(err error) {
	s.guard.report(s.h.OnClose, err)
	_ = s.conn.Close()
}
