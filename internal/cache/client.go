package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/featuregate/internal/config"
	"github.com/rafaeljc/featuregate/internal/logger"
)

// NewRedisClient initializes a Redis client from cfg and waits until the server answers a ping.
// It retries with exponential backoff, giving up early if ctx is cancelled.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	maxRetries := max(cfg.PingMaxRetries, 1)
	backoff := cfg.PingBackoff
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout+opts.ReadTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			log.Info("redis ping successful", slog.Int("attempt", attempt))
			return client, nil
		}

		log.Warn("redis ping failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.Any("error", lastErr),
		)
		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, fmt.Errorf("redis connection aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, lastErr)
}

func clientOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.PoolTimeout = cfg.PoolTimeout
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.MinRetryBackoff
	opts.MaxRetryBackoff = cfg.MaxRetryBackoff

	if cfg.TLSEnabled && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// Ping reports whether Redis answers. Change propagation needs it;
// evaluation does not.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return client.Ping(ctx).Err()
}
