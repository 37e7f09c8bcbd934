// Package store provides the Data Access Layer (Repository) for featuregate.
// It owns the canonical flag records; every derived view is rebuilt from them.
package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when no flag matches the requested id or name.
	ErrNotFound = errors.New("flag not found")

	// ErrDuplicateName is returned when a write would break name uniqueness.
	ErrDuplicateName = errors.New("flag name already exists")

	// ErrVersionConflict is returned when the stored version no longer matches
	// the version the caller read (optimistic locking).
	ErrVersionConflict = errors.New("flag version conflict")
)

// Flag represents the database schema for a feature flag.
// It mirrors the 'flags' table structure.
type Flag struct {
	ID                string            `db:"id" json:"id"`
	Name              string            `db:"name" json:"name"`
	Description       string            `db:"description" json:"description"`
	Enabled           bool              `db:"enabled" json:"enabled"`
	RolloutPercentage int               `db:"rollout_percentage" json:"rollout_percentage"`
	TargetRoles       []string          `db:"target_roles" json:"target_roles"`
	TargetUsers       []string          `db:"target_users" json:"target_users"`
	Metadata          map[string]string `db:"metadata" json:"metadata"`
	CreatedBy         string            `db:"created_by" json:"created_by"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`

	// Version is the optimistic locking counter. It starts at 1 and is
	// incremented by the store on every successful update.
	Version int64 `db:"version" json:"version"`
}

// Clone returns a deep copy so callers never share slices or maps with the store.
func (f *Flag) Clone() *Flag {
	if f == nil {
		return nil
	}
	c := *f
	c.TargetRoles = slices.Clone(f.TargetRoles)
	c.TargetUsers = slices.Clone(f.TargetUsers)
	c.Metadata = maps.Clone(f.Metadata)
	return &c
}

// normalize replaces nil collections with empty ones so that every
// implementation persists and returns the same shape.
func (f *Flag) normalize() {
	if f.TargetRoles == nil {
		f.TargetRoles = []string{}
	}
	if f.TargetUsers == nil {
		f.TargetUsers = []string{}
	}
	if f.Metadata == nil {
		f.Metadata = map[string]string{}
	}
}

// FlagRepository defines the interface for flag persistence operations.
// Using an interface allows for dependency injection and easier mocking in tests.
type FlagRepository interface {
	// CreateFlag inserts a new flag. The caller assigns ID and timestamps;
	// the stored Version is always 1 and is written back into f.
	CreateFlag(ctx context.Context, f *Flag) error

	// UpdateFlag replaces the mutable fields of f if, and only if, the stored
	// version still equals expectedVersion. On success f.Version holds the new version.
	// Returns ErrNotFound, ErrDuplicateName or ErrVersionConflict.
	UpdateFlag(ctx context.Context, f *Flag, expectedVersion int64) error

	// DeleteFlag permanently removes a flag. Returns ErrNotFound if it does not exist.
	DeleteFlag(ctx context.Context, id string) error

	// GetFlag retrieves a single flag by id.
	GetFlag(ctx context.Context, id string) (*Flag, error)

	// GetFlagByName retrieves a single flag by its unique name.
	GetFlagByName(ctx context.Context, name string) (*Flag, error)

	// ListAllFlags retrieves every flag ordered by creation time, then id.
	ListAllFlags(ctx context.Context) ([]*Flag, error)
}
