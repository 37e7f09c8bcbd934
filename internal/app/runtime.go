// Package app is the composition root shared by the featuregate binaries.
// It wires storage, propagation and the flag service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/featuregate/internal/cache"
	"github.com/rafaeljc/featuregate/internal/config"
	"github.com/rafaeljc/featuregate/internal/database"
	"github.com/rafaeljc/featuregate/internal/flagservice"
	"github.com/rafaeljc/featuregate/internal/observability"
	"github.com/rafaeljc/featuregate/internal/registry"
	"github.com/rafaeljc/featuregate/internal/store"
	"github.com/rafaeljc/featuregate/internal/syncer"
)

// Options selects what a binary needs from the shared runtime.
type Options struct {
	// Migrate applies pending schema migrations before anything reads the table,
	// unless the database config turns migrations off. Only the control plane sets it.
	Migrate bool
}

// Runtime holds the long-lived dependencies of a featuregate process.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	InstanceID  string
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Notifier    *cache.RedisNotifier
	Projections *cache.ProjectionCache
	Flags       *flagservice.Service

	syncer *syncer.Service
	wg     sync.WaitGroup
}

// Bootstrap connects to PostgreSQL and Redis and builds the flag service.
// On error every resource opened so far is released.
func Bootstrap(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (_ *Runtime, err error) {
	rt := &Runtime{
		Config:     cfg,
		Logger:     log,
		InstanceID: uuid.NewString(),
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.Pool, err = database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if opts.Migrate && cfg.Database.MigrateOnStart {
		if err = database.Migrate(ctx, rt.Pool); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	rt.Redis, err = cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	rt.Notifier = cache.NewRedisNotifier(rt.Redis, cfg.Syncer.Channel)

	rt.Projections, err = cache.NewProjectionCache(cfg.Flags.ProjectionCacheSize, cfg.Flags.ProjectionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to build projection cache: %w", err)
	}

	reg := registry.New(store.NewPostgresStore(rt.Pool), log, registry.Options{
		MaxRetries:     cfg.Flags.MutationMaxRetries,
		BaseBackoff:    cfg.Flags.MutationBaseBackoff,
		StorageTimeout: cfg.Flags.StorageTimeout,
	})

	rt.Flags = flagservice.New(reg, log, flagservice.Options{
		InstanceID:     rt.InstanceID,
		RefreshTimeout: cfg.Flags.RefreshTimeout,
		PublishTimeout: cfg.Flags.PublishTimeout,
		Publisher:      rt.Notifier,
		Projections:    rt.Projections,
	})

	if cfg.Syncer.Enabled {
		rt.syncer = syncer.New(log, syncer.ConfigFrom(cfg.Flags, cfg.Syncer), rt.Flags, rt.Notifier)
	} else if err = rt.Flags.Refresh(ctx); err != nil {
		// Without the syncer nothing else performs the first load.
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	log.Info("runtime ready",
		slog.String("instance_id", rt.InstanceID),
		slog.Bool("syncer_enabled", cfg.Syncer.Enabled),
		slog.String("channel", cfg.Syncer.Channel),
	)
	return rt, nil
}

// Start launches the background workers: the syncer, the pool monitor and the
// projection cache collector. They stop when ctx is cancelled; Wait joins them.
func (rt *Runtime) Start(ctx context.Context) {
	if rt.syncer != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := rt.syncer.Run(ctx); err != nil {
				rt.Logger.Error("syncer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	interval := rt.Config.Database.MonitorInterval
	rt.wg.Add(2)
	go func() {
		defer rt.wg.Done()
		database.RunPoolMonitor(ctx, rt.Pool, interval)
	}()
	go func() {
		defer rt.wg.Done()
		rt.Projections.RunMetricsCollector(ctx, interval)
	}()
}

// Wait blocks until every worker launched by Start has returned.
func (rt *Runtime) Wait() {
	rt.wg.Wait()
}

// Checkers are the readiness dependencies reported by the observability server.
func (rt *Runtime) Checkers() []observability.Checker {
	return []observability.Checker{
		observability.CheckFunc("postgres", func(ctx context.Context) error { return database.Ping(ctx, rt.Pool) }),
		observability.CheckFunc("redis", func(ctx context.Context) error { return cache.Ping(ctx, rt.Redis) }),
		rt.Flags,
	}
}

// Close releases every resource in reverse order of creation.
func (rt *Runtime) Close() {
	if rt.Flags != nil {
		rt.Flags.Close()
	}
	if rt.Projections != nil {
		rt.Projections.Close()
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
