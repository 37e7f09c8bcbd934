// Package database provides the PostgreSQL connection factory, pool metrics
// and schema migrations.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/featuregate/internal/config"
	"github.com/rafaeljc/featuregate/internal/logger"
)

// NewPostgresPool initializes a PostgreSQL connection pool and waits until the
// database answers a ping, retrying with exponential backoff.
// It returns the pool directly, allowing the caller to manage the lifecycle via Dependency Injection.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	maxRetries := max(cfg.PingMaxRetries, 1)
	backoff := cfg.PingBackoff
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
		lastErr = pool.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			log.Info("postgres ping successful", slog.Int("attempt", attempt))
			return pool, nil
		}

		log.Warn("postgres ping failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.Any("error", lastErr),
		)
		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("postgres connection aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	pool.Close() // Clean up if ping fails
	return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, lastErr)
}

// poolConfig translates the application settings into pgxpool tuning.
// MaxConns prevents the app from starving the DB; MinConns keeps some
// connections warm to reduce latency for new requests.
func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns >= 0 && cfg.MinConns <= cfg.MaxConns {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolCfg.ConnConfig.ConnectTimeout = connectTimeout(cfg)

	return poolCfg, nil
}

func connectTimeout(cfg *config.DatabaseConfig) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}
	return 5 * time.Second
}

// Ping reports whether the pool can reach PostgreSQL. Admin writes and
// snapshot reloads need it; evaluations keep serving from memory without it.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("database pool is nil")
	}
	return pool.Ping(ctx)
}
