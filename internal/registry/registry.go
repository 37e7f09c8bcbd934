// Package registry is the authoritative owner of feature flag definitions.
// It validates, normalizes and stamps every change, delegates persistence to a
// store.FlagRepository and tells listeners about each committed mutation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/observability"
	"github.com/rafaeljc/featuregate/internal/store"
	"github.com/rafaeljc/featuregate/internal/validation"
)

// ChangeKind identifies the mutation carried by a Change.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change describes one committed mutation. For deletions Flag holds the
// last state of the removed flag.
type Change struct {
	Kind ChangeKind
	Flag store.Flag
}

// Listener is called synchronously after every committed mutation,
// before the mutating call returns.
type Listener func(ctx context.Context, change Change)

// Options tunes storage behaviour. Zero values take the defaults.
type Options struct {
	// MaxRetries bounds retries of transient storage failures on mutations.
	MaxRetries int
	// BaseBackoff is the first retry delay; it doubles on each attempt.
	BaseBackoff time.Duration
	// StorageTimeout caps each individual repository call.
	StorageTimeout time.Duration
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// NewID generates flag identifiers. Defaults to random UUIDs.
	NewID func() string
}

// Registry implements the flag CRUD operations.
type Registry struct {
	repo     store.FlagRepository
	logger   *slog.Logger
	validate *validator.Validate
	opts     Options

	mu        sync.RWMutex
	listeners []Listener
}

// New creates a Registry backed by repo.
func New(repo store.FlagRepository, log *slog.Logger, opts Options) *Registry {
	validation.AssertNotNilValue(repo, "flag repository")
	if log == nil {
		log = slog.Default()
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 50 * time.Millisecond
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 3 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Registry{
		repo:     repo,
		logger:   log,
		validate: newValidator(),
		opts:     opts,
	}
}

// Subscribe registers l for every future committed mutation.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Create validates d and stores a new flag with a fresh id, timestamps and version 1.
func (r *Registry) Create(ctx context.Context, d Draft) (store.Flag, error) {
	now := r.now()
	f := &store.Flag{
		ID:                r.opts.NewID(),
		Name:              d.Name,
		Description:       d.Description,
		Enabled:           DefaultEnabled,
		RolloutPercentage: DefaultRolloutPercentage,
		TargetRoles:       d.TargetRoles,
		TargetUsers:       d.TargetUsers,
		Metadata:          d.Metadata,
		CreatedBy:         d.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if d.Enabled != nil {
		f.Enabled = *d.Enabled
	}
	if d.RolloutPercentage != nil {
		f.RolloutPercentage = *d.RolloutPercentage
	}

	normalize(f)
	if err := check(r.validate, f); err != nil {
		return r.fail("create", err)
	}

	err := r.retry(ctx, "create", func(ctx context.Context, attempt int) error {
		err := r.repo.CreateFlag(ctx, f)
		if attempt > 0 && errors.Is(err, store.ErrDuplicateName) {
			// A previous attempt may have committed before its reply was lost.
			if existing, getErr := r.repo.GetFlag(ctx, f.ID); getErr == nil {
				f.Version = existing.Version
				return nil
			}
		}
		return err
	})
	if err != nil {
		return r.fail("create", r.translate(ctx, err, f.ID, f.Name, 0))
	}

	created := *f.Clone()
	r.succeed(ctx, "create", Change{Kind: ChangeCreated, Flag: created})
	return created, nil
}

// Update applies p to the flag identified by id.
// The write is a compare-and-swap on the version read at the start of the call,
// so concurrent writers never silently overwrite each other.
func (r *Registry) Update(ctx context.Context, id string, p Patch) (store.Flag, error) {
	current, err := r.load(ctx, id)
	if err != nil {
		return r.fail("update", err)
	}

	if p.ExpectedVersion != nil && *p.ExpectedVersion != current.Version {
		return r.fail("update", &ConflictError{ID: id, Expected: *p.ExpectedVersion, Actual: current.Version})
	}

	next := current.Clone()
	p.apply(next)
	normalize(next)
	if err := check(r.validate, next); err != nil {
		return r.fail("update", err)
	}
	next.UpdatedAt = r.advance(current.UpdatedAt)

	err = r.retry(ctx, "update", func(ctx context.Context, attempt int) error {
		err := r.repo.UpdateFlag(ctx, next, current.Version)
		if attempt > 0 && errors.Is(err, store.ErrVersionConflict) {
			// Our earlier attempt may have been the one that moved the version.
			if stored, getErr := r.repo.GetFlag(ctx, id); getErr == nil &&
				stored.Version == current.Version+1 && stored.UpdatedAt.Equal(next.UpdatedAt) {
				next.Version = stored.Version
				return nil
			}
		}
		return err
	})
	if err != nil {
		return r.fail("update", r.translate(ctx, err, id, next.Name, current.Version))
	}

	updated := *next.Clone()
	r.succeed(ctx, "update", Change{Kind: ChangeUpdated, Flag: updated})
	return updated, nil
}

// Toggle flips the master switch.
func (r *Registry) Toggle(ctx context.Context, id string, enabled bool) (store.Flag, error) {
	return r.Update(ctx, id, Patch{Enabled: &enabled})
}

// Delete removes the flag permanently. A second delete of the same id fails with NotFoundError.
func (r *Registry) Delete(ctx context.Context, id string) error {
	current, err := r.load(ctx, id)
	if err != nil {
		_, err = r.fail("delete", err)
		return err
	}

	err = r.retry(ctx, "delete", func(ctx context.Context, attempt int) error {
		err := r.repo.DeleteFlag(ctx, id)
		if attempt > 0 && errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		_, err = r.fail("delete", r.translate(ctx, err, id, current.Name, current.Version))
		return err
	}

	r.succeed(ctx, "delete", Change{Kind: ChangeDeleted, Flag: *current})
	return nil
}

// GetAll returns every flag ordered by creation time, then id.
func (r *Registry) GetAll(ctx context.Context) ([]store.Flag, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.StorageTimeout)
	defer cancel()

	flags, err := r.repo.ListAllFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list flags: %w", ErrStorage, err)
	}

	out := make([]store.Flag, 0, len(flags))
	for _, f := range flags {
		out = append(out, *f.Clone())
	}
	return out, nil
}

// GetByID returns the flag with the given id.
func (r *Registry) GetByID(ctx context.Context, id string) (store.Flag, error) {
	f, err := r.load(ctx, id)
	if err != nil {
		return store.Flag{}, err
	}
	return *f, nil
}

// GetByName returns the flag with the given name. Surrounding whitespace is ignored.
func (r *Registry) GetByName(ctx context.Context, name string) (store.Flag, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.StorageTimeout)
	defer cancel()

	f, err := r.repo.GetFlagByName(ctx, strings.TrimSpace(name))
	if errors.Is(err, store.ErrNotFound) {
		return store.Flag{}, &NotFoundError{Ref: name}
	}
	if err != nil {
		return store.Flag{}, fmt.Errorf("%w: get flag %q: %w", ErrStorage, name, err)
	}
	return *f.Clone(), nil
}

func (r *Registry) load(ctx context.Context, id string) (*store.Flag, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.StorageTimeout)
	defer cancel()

	f, err := r.repo.GetFlag(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Ref: id}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get flag %q: %w", ErrStorage, id, err)
	}
	return f, nil
}

// retry runs op until it succeeds, fails permanently, or the retry budget is spent.
func (r *Registry) retry(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	backoff := r.opts.BaseBackoff
	var err error

	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.StorageTimeout)
		err = fn(callCtx, attempt)
		cancel()

		if err == nil || !transient(err) || ctx.Err() != nil {
			return err
		}
		if attempt == r.opts.MaxRetries {
			break
		}

		observability.RegistryRetriesTotal.WithLabelValues(op).Inc()
		logger.FromContext(ctx).Warn("retrying flag storage call",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrStorage, op, r.opts.MaxRetries+1, err)
}

// transient reports whether a storage error is worth retrying.
// Domain outcomes are final; everything else is assumed to be infrastructure.
func transient(err error) bool {
	switch {
	case errors.Is(err, ErrStorage):
		return false
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDuplicateName),
		errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// translate maps repository errors onto the registry taxonomy.
func (r *Registry) translate(ctx context.Context, err error, id, name string, expected int64) error {
	switch {
	case errors.Is(err, store.ErrDuplicateName):
		return &DuplicateNameError{Name: name}
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Ref: id}
	case errors.Is(err, store.ErrVersionConflict):
		conflict := &ConflictError{ID: id, Expected: expected}
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.StorageTimeout)
		defer cancel()
		if f, getErr := r.repo.GetFlag(lookupCtx, id); getErr == nil {
			conflict.Actual = f.Version
		}
		return conflict
	case errors.Is(err, ErrStorage):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}

func (r *Registry) succeed(ctx context.Context, op string, change Change) {
	observability.RegistryMutationsTotal.WithLabelValues(op, "success").Inc()

	logger.FromContext(ctx).Info("flag mutated",
		slog.String("op", op),
		slog.String("flag_id", change.Flag.ID),
		slog.String("flag", change.Flag.Name),
		slog.Int64("version", change.Flag.Version),
	)

	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, l := range listeners {
		r.notify(ctx, l, change)
	}
}

func (r *Registry) notify(ctx context.Context, l Listener, change Change) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("flag listener panicked",
				slog.String("flag_id", change.Flag.ID),
				slog.Any("panic", rec),
			)
		}
	}()
	l(ctx, change)
}

func (r *Registry) fail(op string, err error) (store.Flag, error) {
	observability.RegistryMutationsTotal.WithLabelValues(op, status(err)).Inc()
	return store.Flag{}, err
}

func status(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateName):
		return "duplicate"
	default:
		return "error"
	}
}

// now returns the clock reading at PostgreSQL timestamptz precision.
func (r *Registry) now() time.Time {
	return r.opts.Clock().UTC().Truncate(time.Microsecond)
}

// advance returns a timestamp strictly after prev, even if the clock stalls or goes back.
func (r *Registry) advance(prev time.Time) time.Time {
	next := r.now()
	if !next.After(prev) {
		next = prev.Add(time.Microsecond)
	}
	return next
}
