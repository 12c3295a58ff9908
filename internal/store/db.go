package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artify-labs/artify/internal/config"
	"github.com/artify-labs/artify/internal/retry"
	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "artify"

// Connect opens a pgx pool and waits until Postgres answers a ping. The
// gateway and workers often start before the database does, so the ping is
// retried cfg.ConnectAttempts times with a fixed cfg.ConnectDelay.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	policy := retry.Policy{
		Attempts: cfg.ConnectAttempts,
		Delay:    cfg.ConnectDelay,
		OnRetry: func(err error, attempt int, wait time.Duration) {
			slog.Warn("database not ready, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	if err := retry.Do(ctx, policy, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
