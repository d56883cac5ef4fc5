package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/rickgao/signal-relay/internal/backplane"
	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/hub"
	"github.com/rickgao/signal-relay/internal/metrics"
	"github.com/rickgao/signal-relay/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Server wires the relay service, hub endpoints and metrics behind one HTTP listener.
type Server struct {
	cfg      *config.RelayConfig
	service  *Service
	hub      *hub.Hub
	registry *registry.Registry
	metrics  *metrics.Relay
	logger   *slog.Logger
	http     *http.Server
}

// NewServer builds a server. bp may be nil for a standalone instance.
func NewServer(cfg *config.RelayConfig, bp backplane.Backplane, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	origin := cfg.Instance.ID
	if origin == "" {
		origin = uuid.NewString()
	}

	m := metrics.NewRelay()
	reg := registry.New(logger)
	svc := NewService(origin, reg, bp, m, logger)
	h := hub.New(cfg.Hub, reg, m, logger)

	s := &Server{
		cfg:      cfg,
		service:  svc,
		hub:      h,
		registry: reg,
		metrics:  m,
		logger:   logger.With("component", "server"),
	}
	s.http = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	return s
}

// Service returns the relay service.
func (s *Server) Service() *Service { return s.service }

// Registry returns the connection registry.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Handler returns the full HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PushPath, s.service.ServePush)
	mux.HandleFunc("POST "+PushAliasPath, s.service.ServePush)
	mux.HandleFunc("GET /health", s.service.ServeHealth)
	mux.HandleFunc("GET /version", s.service.ServeVersion)
	mux.HandleFunc("GET /debug/connections", s.service.ServeConnections)
	if s.cfg.Metrics.IsEnabled() {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.metrics.Handler())
	}
	s.hub.Register(mux)
	return mux
}

// Run serves HTTP, the backplane subscription and hub housekeeping until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.HTTP.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("relay listening",
			"addr", ln.Addr().String(),
			"origin", s.service.Origin(),
			"hub", s.cfg.Hub.Path,
		)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.service.Run(ctx)
	})

	g.Go(func() error {
		return s.hub.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are closed by the hub, not by Shutdown.
		s.hub.Close()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("relay stopped")
	return err
}
