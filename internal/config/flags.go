package config

import (
	"fmt"
	"time"
)

// FlagsConfig tunes the in-process flag service.
type FlagsConfig struct {
	// StalenessWindow bounds how long a remote change may go unnoticed when
	// an invalidation message is lost. It drives the periodic resync.
	StalenessWindow time.Duration `envconfig:"STALENESS_WINDOW" default:"5s" validate:"gt=0"`

	// RefreshTimeout caps a single snapshot reload from storage.
	RefreshTimeout time.Duration `envconfig:"REFRESH_TIMEOUT" default:"2s" validate:"gt=0"`

	// PublishTimeout caps the best-effort broadcast of a change to other instances.
	PublishTimeout time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"1s" validate:"gt=0"`

	// ProjectionCacheSize is the maximum number of per-subject available-flag lists kept in memory.
	ProjectionCacheSize int `envconfig:"PROJECTION_CACHE_SIZE" default:"10000" validate:"min=1"`

	// ProjectionTTL evicts per-subject lists that have not been rebuilt recently.
	ProjectionTTL time.Duration `envconfig:"PROJECTION_TTL" default:"5m" validate:"gt=0"`

	// MutationMaxRetries bounds retries of transient storage failures on admin writes.
	MutationMaxRetries int `envconfig:"MUTATION_MAX_RETRIES" default:"3" validate:"min=0,max=10"`

	// MutationBaseBackoff is the first retry delay; it doubles on every attempt.
	MutationBaseBackoff time.Duration `envconfig:"MUTATION_BASE_BACKOFF" default:"50ms" validate:"gt=0"`

	// StorageTimeout caps every individual storage call made by the registry.
	StorageTimeout time.Duration `envconfig:"STORAGE_TIMEOUT" default:"3s" validate:"gt=0"`
}

// Validate checks cross-field constraints not expressible with struct tags.
func (c *FlagsConfig) Validate(prod bool) error {
	if c.RefreshTimeout > c.StalenessWindow {
		return fmt.Errorf("flags refresh timeout (%s) cannot exceed the staleness window (%s)", c.RefreshTimeout, c.StalenessWindow)
	}

	// Production traffic needs enough room for hot subjects, otherwise
	// the projection cache thrashes on every request.
	if prod {
		if c.ProjectionCacheSize < 1000 {
			return fmt.Errorf("flags projection cache size must be at least 1000 in production, got %d", c.ProjectionCacheSize)
		}
		if c.ProjectionTTL < 10*time.Second {
			return fmt.Errorf("flags projection TTL must be at least 10s in production, got %s", c.ProjectionTTL)
		}
	}
	return nil
}
