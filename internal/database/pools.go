package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/signal-relay/internal/config"
)

// NewPool creates the publish pool. Connections are established lazily, so an unreachable
// server is not an error here.
func NewPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg, RolePublish))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// ConnectListener opens one unpooled connection for a LISTEN session.
func ConnectListener(ctx context.Context, cfg config.DBConfig) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, BuildConnString(cfg, RoleListen))
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	return conn, nil
}
