// Package flagservice is the facade the rest of the application talks to.
//
// Consumers ask IsEnabled / IsFeatureEnabled, which read an immutable, compiled
// snapshot of every flag without locks or storage round-trips. Admin calls go
// through the registry; each committed change is folded into the snapshot
// before the call returns, and broadcast to the other instances.
package flagservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/featuregate/internal/cache"
	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/observability"
	"github.com/rafaeljc/featuregate/internal/registry"
	"github.com/rafaeljc/featuregate/internal/ruleengine"
	"github.com/rafaeljc/featuregate/internal/store"
	"github.com/rafaeljc/featuregate/internal/validation"
)

// ErrNotReady is returned by Check while no snapshot has ever been loaded.
var ErrNotReady = errors.New("flag snapshot not loaded")

// Options wires the optional collaborators. Zero values take the defaults.
type Options struct {
	// InstanceID tags outgoing notifications so this instance can skip its own.
	// Defaults to a random UUID.
	InstanceID string

	// RefreshTimeout caps a full snapshot reload. Defaults to 2s.
	RefreshTimeout time.Duration

	// PublishTimeout caps each best-effort broadcast. Defaults to 1s.
	PublishTimeout time.Duration

	// Publisher broadcasts committed changes. Nil means single-instance mode.
	Publisher cache.Publisher

	// Projections caches per-subject available-flag lists. Nil disables caching.
	Projections *cache.ProjectionCache
}

// Service evaluates flags against an in-memory snapshot and fronts the registry
// for administrative calls.
type Service struct {
	registry *registry.Registry
	logger   *slog.Logger
	opts     Options

	snap atomic.Pointer[snapshot]

	// applyMu serializes snapshot writers: local changes, remote changes and reloads.
	applyMu sync.Mutex

	stale       atomic.Bool
	lastSuccess atomic.Int64 // unix nanoseconds of the last full reload

	publishing sync.WaitGroup
}

// New creates the service and registers it as a listener on reg.
// Call Refresh once before serving traffic; until then every flag evaluates to false.
func New(reg *registry.Registry, log *slog.Logger, opts Options) *Service {
	validation.AssertNotNil(reg, "flag registry")
	if log == nil {
		log = slog.Default()
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 2 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = time.Second
	}

	s := &Service{
		registry: reg,
		logger:   log.With(slog.String("component", "flagservice"), slog.String("instance_id", opts.InstanceID)),
		opts:     opts,
	}
	reg.Subscribe(s.onChange)
	return s
}

// InstanceID identifies this service in change notifications.
func (s *Service) InstanceID() string {
	return s.opts.InstanceID
}

// Evaluate returns the decision for the named flag and subject.
// It never blocks on storage and never panics: any internal failure yields
// an unavailable decision.
func (s *Service) Evaluate(ctx context.Context, name string, subject ruleengine.Subject) (decision ruleengine.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.FlagEvaluationPanics.Inc()
			logger.FromContext(ctx).Error("flag evaluation panicked",
				slog.String("flag", name),
				slog.Any("panic", rec),
			)
			decision = ruleengine.Decision{Available: false, Reason: ruleengine.ReasonNotFound}
		}
	}()

	var flag *ruleengine.FeatureFlag
	if snap := s.snap.Load(); snap != nil {
		flag = snap.byName[name]
	}

	decision = ruleengine.Evaluate(flag, subject)
	observability.FlagEvaluationsTotal.WithLabelValues(string(decision.Reason)).Inc()
	return decision
}

// IsFeatureEnabled reports whether subject sees the named flag. Unknown flags are off.
func (s *Service) IsFeatureEnabled(ctx context.Context, name string, subject ruleengine.Subject) bool {
	return s.Evaluate(ctx, name, subject).Available
}

// IsEnabled evaluates the named flag for the subject carried by ctx (see WithSubject).
// A context without a subject is evaluated as an anonymous subject.
func (s *Service) IsEnabled(ctx context.Context, name string) bool {
	subject, _ := SubjectFromContext(ctx)
	return s.IsFeatureEnabled(ctx, name, subject)
}

// AvailableFlags returns the sorted names of every flag subject currently sees.
func (s *Service) AvailableFlags(ctx context.Context, subject ruleengine.Subject) (names []string) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.FlagEvaluationPanics.Inc()
			logger.FromContext(ctx).Error("available flags projection panicked", slog.Any("panic", rec))
			names = []string{}
		}
	}()

	snap := s.snap.Load()
	if snap == nil {
		return []string{}
	}

	key := cache.ProjectionKey{Version: snap.version, SubjectID: subject.ID, Role: subject.Role}
	if s.opts.Projections != nil {
		if cached, ok := s.opts.Projections.Get(key); ok {
			return cached
		}
	}

	names = make([]string, 0, len(snap.names))
	for _, name := range snap.names {
		if ruleengine.IsAvailable(snap.byName[name], subject) {
			names = append(names, name)
		}
	}

	if s.opts.Projections != nil {
		s.opts.Projections.Set(key, names)
	}
	return names
}

// Refresh reloads every flag from the registry and swaps in a new snapshot.
// On failure the previous snapshot keeps serving and is reported as stale.
func (s *Service) Refresh(ctx context.Context) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.RefreshTimeout)
	defer cancel()

	flags, err := s.registry.GetAll(ctx)
	observability.SnapshotRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SnapshotRefreshTotal.WithLabelValues("failure").Inc()
		if s.snap.Load() != nil {
			s.stale.Store(true)
			observability.SnapshotStale.Set(1)
			s.logger.Warn("flag reload failed, serving last good snapshot",
				slog.Duration("age", s.Age()),
				slog.String("error", err.Error()),
			)
		}
		return fmt.Errorf("failed to reload flags: %w", err)
	}

	var version uint64 = 1
	if prev := s.snap.Load(); prev != nil {
		version = prev.version + 1
	}
	s.publish(buildSnapshot(version, flags, s.logger))

	s.stale.Store(false)
	s.lastSuccess.Store(time.Now().UnixNano())
	observability.SnapshotStale.Set(0)
	observability.SnapshotLastSuccess.SetToCurrentTime()
	observability.SnapshotRefreshTotal.WithLabelValues("success").Inc()
	return nil
}

// ApplyRemote folds a change committed by another instance into the snapshot.
// Notifications from this instance are ignored; its changes are already applied.
func (s *Service) ApplyRemote(ctx context.Context, n cache.Notification) error {
	if n.Origin == s.opts.InstanceID {
		observability.InvalidationsReceived.WithLabelValues("self").Inc()
		return nil
	}
	observability.InvalidationsReceived.WithLabelValues("applied").Inc()

	if n.Kind == string(registry.ChangeDeleted) {
		s.remove(n.FlagID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RefreshTimeout)
	defer cancel()

	rec, err := s.registry.GetByID(ctx, n.FlagID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		// Deleted again before we got to it.
		s.remove(n.FlagID)
		return nil
	case err != nil:
		return fmt.Errorf("failed to load changed flag %q: %w", n.FlagID, err)
	}

	return s.upsert(rec)
}

// Ready reports whether a snapshot has been loaded.
func (s *Service) Ready() bool {
	return s.snap.Load() != nil
}

// Stale reports whether the last reload failed.
func (s *Service) Stale() bool {
	return s.stale.Load()
}

// Age is the time since the last successful full reload, or zero if none happened.
func (s *Service) Age() time.Duration {
	last := s.lastSuccess.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// SnapshotVersion is the local version of the current snapshot. It changes on every applied change.
func (s *Service) SnapshotVersion() uint64 {
	if snap := s.snap.Load(); snap != nil {
		return snap.version
	}
	return 0
}

// Name implements observability.Checker.
func (s *Service) Name() string {
	return "flag_snapshot"
}

// Check implements observability.Checker. A stale snapshot is still ready.
func (s *Service) Check(context.Context) error {
	if !s.Ready() {
		return ErrNotReady
	}
	return nil
}

// Close waits for in-flight broadcasts to finish.
func (s *Service) Close() {
	s.publishing.Wait()
}

// onChange is the registry listener. It runs before the admin call returns,
// which gives read-after-write on this instance.
func (s *Service) onChange(ctx context.Context, change registry.Change) {
	var err error
	if change.Kind == registry.ChangeDeleted {
		s.remove(change.Flag.ID)
	} else {
		err = s.upsert(change.Flag)
	}
	if err != nil {
		// The record passed registry validation, so this is a bug. A reload
		// rebuilds the snapshot from storage rather than serving a partial one.
		logger.FromContext(ctx).Error("failed to apply flag change, reloading",
			slog.String("flag_id", change.Flag.ID),
			slog.String("error", err.Error()),
		)
		if err := s.Refresh(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx).Error("reload after failed change", slog.String("error", err.Error()))
		}
	}

	s.broadcast(ctx, cache.Notification{
		Origin:  s.opts.InstanceID,
		FlagID:  change.Flag.ID,
		Kind:    string(change.Kind),
		Version: change.Flag.Version,
		At:      change.Flag.UpdatedAt,
	})
}

func (s *Service) upsert(rec store.Flag) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	cur := s.snap.Load()
	if cur == nil {
		return nil
	}
	next, changed, err := cur.with(rec)
	if err != nil {
		return err
	}
	if changed {
		s.publish(next)
	}
	return nil
}

func (s *Service) remove(id string) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	cur := s.snap.Load()
	if cur == nil {
		return
	}
	if next, changed := cur.without(id); changed {
		s.publish(next)
	}
}

// publish swaps in next and drops every projection built from older snapshots.
// Callers hold applyMu.
func (s *Service) publish(next *snapshot) {
	s.snap.Store(next)
	if s.opts.Projections != nil {
		s.opts.Projections.Clear()
	}
	observability.SnapshotVersion.Set(float64(next.version))
	observability.SnapshotFlags.Set(float64(len(next.byID)))
}

// broadcast sends n to other instances without delaying the caller.
func (s *Service) broadcast(ctx context.Context, n cache.Notification) {
	if s.opts.Publisher == nil {
		return
	}

	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PublishTimeout)
		defer cancel()

		if err := s.opts.Publisher.Publish(pubCtx, n); err != nil {
			// Other instances converge on their next periodic resync.
			s.logger.Warn("failed to broadcast flag change",
				slog.String("flag_id", n.FlagID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
