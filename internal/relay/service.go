// Package relay accepts pushed envelopes and fans them out to every client connection,
// locally and across instances through the backplane.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/signal-relay/internal/backplane"
	"github.com/rickgao/signal-relay/internal/metrics"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/queue"
	"github.com/rickgao/signal-relay/internal/registry"
	"golang.org/x/sync/errgroup"
)

const (
	publishTimeout   = 5 * time.Second
	publishQueueSize = 256
)

// Ack confirms local hand-off of a pushed envelope.
type Ack struct {
	Delivered bool `json:"delivered"`
}

// Service is the relay core for one instance.
type Service struct {
	origin    string
	registry  *registry.Registry
	backplane backplane.Backplane
	metrics   *metrics.Relay
	logger    *slog.Logger

	outbound *queue.Queue[backplane.Message]
}

// NewService creates a relay service. bp and m may be nil; without a backplane the instance
// relays to its own connections only.
func NewService(origin string, reg *registry.Registry, bp backplane.Backplane, m *metrics.Relay, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		origin:    origin,
		registry:  reg,
		backplane: bp,
		metrics:   m,
		logger:    logger.With("component", "relay", "origin", origin),
		outbound:  queue.New[backplane.Message](publishQueueSize),
	}
}

// Origin returns the id this instance tags its publications with.
func (s *Service) Origin() string {
	return s.origin
}

// Push delivers env to every local connection and queues it for the backplane. It returns once
// local hand-off is done; the backplane publish happens in Run and its failures never fail the
// push.
func (s *Service) Push(ctx context.Context, env model.Envelope) (Ack, error) {
	if err := env.Validate(); err != nil {
		s.countPush(metrics.ResultMalformed)
		return Ack{}, err
	}
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	n := s.registry.Broadcast(env)
	s.countPush(metrics.ResultDelivered)
	if s.metrics != nil {
		s.metrics.Deliveries.Add(float64(n))
	}

	if s.backplane != nil {
		s.outbound.Push(backplane.Message{Origin: s.origin, Envelope: env})
	}

	s.logger.Debug("push delivered",
		"event", env.Name(),
		"connections", n,
	)
	return Ack{Delivered: true}, nil
}

// HandleRemote is the backplane handler. Messages from this instance were already delivered by
// Push and are dropped.
func (s *Service) HandleRemote(msg backplane.Message) {
	if msg.Origin == s.origin {
		s.countRemote(metrics.RemoteSelf)
		return
	}

	n := s.registry.Broadcast(msg.Envelope)
	s.countRemote(metrics.RemoteBroadcast)
	if s.metrics != nil {
		s.metrics.Deliveries.Add(float64(n))
	}

	s.logger.Debug("remote delivered",
		"event", msg.Envelope.Name(),
		"from", msg.Origin,
		"connections", n,
	)
}

// Run subscribes to the backplane and publishes queued envelopes in push order until ctx is
// done. Without a backplane it just waits for ctx.
func (s *Service) Run(ctx context.Context) error {
	if s.backplane == nil {
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.backplane.Subscribe(ctx, s.HandleRemote); err != nil {
			s.countBackplaneError(metrics.OpSubscribe)
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.publishLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (s *Service) publishLoop(ctx context.Context) {
	for {
		msg, ok := s.outbound.Pop(ctx)
		if !ok {
			return
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.backplane.Publish(pubCtx, msg)
		cancel()

		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			s.countBackplaneError(metrics.OpPublish)
			if errors.Is(err, backplane.ErrTooLarge) {
				s.logger.Warn("envelope too large for backplane, delivered to local connections only",
					"event", msg.Envelope.Name(),
					"error", err,
				)
				continue
			}
			s.logger.Warn("backplane publish failed",
				"event", msg.Envelope.Name(),
				"error", err,
			)
		}
	}
}

// PendingPublishes returns the number of envelopes waiting for the backplane.
func (s *Service) PendingPublishes() int {
	return s.outbound.Len()
}

func (s *Service) countPush(result string) {
	if s.metrics != nil {
		s.metrics.Pushes.WithLabelValues(result).Inc()
	}
}

func (s *Service) countRemote(result string) {
	if s.metrics != nil {
		s.metrics.RemoteMessages.WithLabelValues(result).Inc()
	}
}

func (s *Service) countBackplaneError(op string) {
	if s.metrics != nil {
		s.metrics.BackplaneErrors.WithLabelValues(op).Inc()
	}
}
