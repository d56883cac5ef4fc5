package backplane

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rickgao/signal-relay/internal/config"
)

// Redis is a Backplane on a redis PUBLISH/SUBSCRIBE channel. go-redis resubscribes on its own
// after a dropped connection.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	closed  atomic.Bool
}

// NewRedis creates a redis backplane. With AbortOnConnectFail set, an unreachable server is a
// startup error; otherwise it is logged and the client keeps retrying in the background.
func NewRedis(ctx context.Context, cfg config.RedisConfig, channel string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backplane", "driver", config.DriverRedis, "channel", channel)

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.ConnectRetry,
		DialTimeout: cfg.ConnectTimeout,
	})

	return newRedis(ctx, client, cfg.AbortOnConnectFail, channel, logger)
}

func newRedis(ctx context.Context, client *redis.Client, abortOnFail bool, channel string, logger *slog.Logger) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		if abortOnFail {
			_ = client.Close()
			return nil, fmt.Errorf("%w: ping redis: %v", ErrUnavailable, err)
		}
		logger.Warn("redis not reachable, continuing", "error", err)
	}

	return &Redis{
		client:  client,
		channel: channel,
		logger:  logger,
	}, nil
}

// Publish sends msg on the channel.
func (r *Redis) Publish(ctx context.Context, msg Message) error {
	if r.closed.Load() {
		return ErrClosed
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrUnavailable, err)
	}
	return nil
}

// Subscribe calls h for each message until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	if r.closed.Load() {
		return ErrClosed
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for confirmation. A failure here is not fatal: the channel below keeps
	// reconnecting and resubscribes once the server is back.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("subscribe not confirmed, will retry", "error", err)
	} else {
		r.logger.Info("subscribed")
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed message", "error", err)
				continue
			}
			h(msg)
		}
	}
}

// Close closes the redis client.
func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
