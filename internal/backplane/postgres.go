package backplane

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/database"
)

const (
	// MaxNotifyPayload is the largest payload pg_notify accepts, in bytes.
	MaxNotifyPayload = 7999

	listenBaseWait = 1 * time.Second
	listenMaxWait  = 30 * time.Second
)

// Postgres is a Backplane on PostgreSQL LISTEN/NOTIFY. Publishes go through a pool; a dedicated
// connection listens and is re-established with backoff after any error.
type Postgres struct {
	pool    *pgxpool.Pool
	cfg     config.DBConfig
	channel string
	logger  *slog.Logger
	closed  atomic.Bool
}

// NewPostgres creates the publish pool and pings the server. With AbortOnConnectFail set, an
// unreachable server is a startup error; otherwise it is logged, publishes fail until the server
// is back and Subscribe keeps reconnecting.
func NewPostgres(ctx context.Context, cfg config.DBConfig, channel string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backplane", "driver", config.DriverPostgres, "channel", channel)

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := pool.Ping(ctx); err != nil {
		if cfg.AbortOnConnectFail {
			pool.Close()
			return nil, fmt.Errorf("%w: ping database: %v", ErrUnavailable, err)
		}
		logger.Warn("postgres not reachable, continuing", "error", err)
	}

	return &Postgres{
		pool:    pool,
		cfg:     cfg,
		channel: channel,
		logger:  logger,
	}, nil
}

// Publish sends msg with pg_notify. Messages over MaxNotifyPayload fail with ErrTooLarge
// without reaching the server.
func (p *Postgres) Publish(ctx context.Context, msg Message) error {
	if p.closed.Load() {
		return ErrClosed
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(data) > MaxNotifyPayload {
		return fmt.Errorf("%w: %d bytes, pg_notify limit is %d", ErrTooLarge, len(data), MaxNotifyPayload)
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(data)); err != nil {
		return fmt.Errorf("%w: notify: %v", ErrUnavailable, err)
	}
	return nil
}

// Subscribe listens on the channel until ctx is done.
func (p *Postgres) Subscribe(ctx context.Context, h Handler) error {
	if p.closed.Load() {
		return ErrClosed
	}

	wait := listenBaseWait
	for {
		err := p.listen(ctx, h, func() { wait = listenBaseWait })
		if ctx.Err() != nil {
			return nil
		}

		p.logger.Warn("listen failed, reconnecting",
			"error", err,
			"wait", wait,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		// Exponential backoff
		wait *= 2
		if wait > listenMaxWait {
			wait = listenMaxWait
		}
	}
}

// listen runs one LISTEN session. onListening is called once the session is established.
func (p *Postgres) listen(ctx context.Context, h Handler, onListening func()) error {
	conn, err := database.ConnectListener(ctx, p.cfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	onListening()
	p.logger.Info("listening")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		msg, err := Decode([]byte(n.Payload))
		if err != nil {
			p.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		h(msg)
	}
}

// Close closes the publish pool.
func (p *Postgres) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.pool.Close()
	return nil
}
