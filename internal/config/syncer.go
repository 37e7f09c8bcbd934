package config

import "time"

// SyncerConfig contains configuration for the background worker that keeps
// the local flag snapshot aligned with other instances.
type SyncerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Channel is the Redis pub/sub channel carrying flag change notifications.
	Channel string `envconfig:"CHANNEL" default:"featuregate:flags:changed" validate:"required"`

	// MaxRetries bounds consecutive subscription failures before the worker
	// falls back to periodic resync only.
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	BaseRetryDelay time.Duration `envconfig:"BASE_RETRY_DELAY" default:"1s" validate:"gt=0"`
}
