package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the PostgreSQL connection pool.
type Config struct {
	URI             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns pool settings suitable for a single API instance.
func DefaultConfig(uri string) Config {
	return Config{
		URI:             uri,
		MaxConns:        8,
		MinConns:        1,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Connect opens a pgx pool and verifies the connection with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
