// Package syncer implements the background worker that keeps the local flag
// snapshot aligned with changes committed by other instances.
//
// Two mechanisms cooperate: change notifications (Redis pub/sub) give fast
// propagation, and a periodic full reload bounds staleness when a
// notification is lost.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rafaeljc/featuregate/internal/cache"
	"github.com/rafaeljc/featuregate/internal/config"
	"github.com/rafaeljc/featuregate/internal/observability"
)

// Target is the snapshot owner kept up to date by the syncer.
type Target interface {
	Refresh(ctx context.Context) error
	ApplyRemote(ctx context.Context, n cache.Notification) error
}

// Subscriber opens change subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context) (*cache.Subscription, error)
}

// Config holds the configuration for the Syncer service.
type Config struct {
	// Interval is the duration between full reloads (the staleness window).
	Interval time.Duration

	// MaxRetries and BaseRetryDelay shape the subscription retry backoff.
	MaxRetries     int
	BaseRetryDelay time.Duration
}

// ConfigFrom assembles a Config from the application settings.
func ConfigFrom(flags config.FlagsConfig, cfg config.SyncerConfig) Config {
	return Config{
		Interval:       flags.StalenessWindow,
		MaxRetries:     cfg.MaxRetries,
		BaseRetryDelay: cfg.BaseRetryDelay,
	}
}

// Service orchestrates the synchronization process.
type Service struct {
	logger     *slog.Logger
	config     Config
	target     Target
	subscriber Subscriber
}

// New creates a new Syncer service. subscriber may be nil, in which case
// only the periodic reload runs.
func New(logger *slog.Logger, cfg Config, target Target, subscriber Subscriber) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if target == nil {
		panic("syncer: target cannot be nil")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Service{
		logger:     logger.With(slog.String("component", "syncer")),
		config:     cfg,
		target:     target,
		subscriber: subscriber,
	}
}

// Run starts the syncer loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service", slog.Duration("interval", s.config.Interval))

	// Run once immediately on startup
	s.resync(ctx, "startup")

	var wg sync.WaitGroup
	if s.subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.listen(ctx)
		}()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			wg.Wait()
			return nil
		case <-ticker.C:
			s.resync(ctx, "tick")
		}
	}
}

// listen keeps a subscription open, reconnecting with exponential backoff.
// After MaxRetries consecutive failures it rests for a full interval; the
// periodic reload keeps the snapshot bounded in the meantime.
func (s *Service) listen(ctx context.Context) {
	failures := 0
	delay := s.config.BaseRetryDelay

	for ctx.Err() == nil {
		sub, err := s.subscriber.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			wait := delay
			if failures > s.config.MaxRetries {
				s.logger.Error("change subscription unavailable, relying on periodic reload",
					slog.Int("failures", failures),
					slog.String("error", err.Error()),
				)
				wait = s.config.Interval
				failures = 0
				delay = s.config.BaseRetryDelay
			} else {
				s.logger.Warn("change subscription failed, retrying",
					slog.Int("attempt", failures),
					slog.Duration("backoff", delay),
					slog.String("error", err.Error()),
				)
				delay *= 2
			}
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		failures = 0
		delay = s.config.BaseRetryDelay
		observability.SyncerSubscribed.Set(1)
		s.logger.Info("change subscription active")

		// Anything published while we were not subscribed is lost.
		s.resync(ctx, "subscribe")

		err = sub.Run(ctx, s.handle)
		_ = sub.Close()
		observability.SyncerSubscribed.Set(0)

		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("change subscription dropped", slog.String("error", err.Error()))
		}
	}
}

// handle applies one notification, falling back to a full reload if the targeted load fails.
func (s *Service) handle(ctx context.Context, n cache.Notification) {
	if err := s.target.ApplyRemote(ctx, n); err != nil {
		s.logger.Warn("failed to apply change notification",
			slog.String("flag_id", n.FlagID),
			slog.String("origin", n.Origin),
			slog.String("error", err.Error()),
		)
		s.resync(ctx, "notification")
	}
}

// resync performs a full reload.
func (s *Service) resync(ctx context.Context, trigger string) {
	start := time.Now()
	if err := s.target.Refresh(ctx); err != nil {
		observability.SyncerResyncTotal.WithLabelValues(trigger, "failure").Inc()
		// We log the error but don't stop the worker. Retry on next tick.
		s.logger.Error("sync cycle failed",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		return
	}

	observability.SyncerResyncTotal.WithLabelValues(trigger, "success").Inc()
	s.logger.Debug("sync cycle completed",
		slog.String("trigger", trigger),
		slog.Duration("duration", time.Since(start)),
	)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
