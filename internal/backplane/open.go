package backplane

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/signal-relay/internal/config"
)

// Open builds the backplane selected by cfg.Driver. The none driver returns nil.
func Open(ctx context.Context, cfg config.BackplaneConfig, logger *slog.Logger) (Backplane, error) {
	switch cfg.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverMemory, "":
		return NewMemory(cfg.Channel), nil
	case config.DriverRedis:
		return NewRedis(ctx, cfg.Redis, cfg.Channel, logger)
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.Postgres, cfg.Channel, logger)
	default:
		return nil, fmt.Errorf("unknown backplane driver %q", cfg.Driver)
	}
}
