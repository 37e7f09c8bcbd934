// Package config loads featuregate settings from FEATUREGATE_* environment
// variables (envconfig) and checks them with struct tags (validator) plus
// per-section rules that depend on the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix shared by every environment variable read by Load.
const EnvPrefix = "FEATUREGATE"

// EnvironmentProduction enables the strict checks (secrets, TLS, sizing).
const EnvironmentProduction = "production"

// Config holds the complete application configuration.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Flags         FlagsConfig         `envconfig:"FLAGS"`
	Syncer        SyncerConfig        `envconfig:"SYNCER"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
}

// AppConfig contains process-wide settings shared by both binaries.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"featuregate"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s" validate:"gt=0"`
}

// IsProduction reports whether the strict production rules apply.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == EnvironmentProduction
}

// ServerConfig groups the listeners of the two planes.
type ServerConfig struct {
	Control ControlPlaneConfig `envconfig:"CONTROL"`
	Data    DataPlaneConfig    `envconfig:"DATA"`
}

// Load reads the environment, applies defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate runs the struct-tag rules first, then every section rule.
// All section problems are reported together.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	prod := c.App.IsProduction()
	return errors.Join(
		c.Database.Validate(prod),
		c.Redis.Validate(prod),
		c.Server.Control.Validate(prod),
		c.Server.Data.Validate(),
		c.Flags.Validate(prod),
		c.Observability.Validate(),
		c.validatePorts(),
	)
}

// validatePorts rejects listeners that would collide inside one process.
// The observability server runs next to either plane.
func (c *Config) validatePorts() error {
	obs := c.Observability.Port
	for name, port := range map[string]string{
		"control plane":   c.Server.Control.Port,
		"data plane":      c.Server.Data.Port,
		"data plane grpc": c.Server.Data.GRPCPort,
	} {
		if port == obs {
			return fmt.Errorf("observability port %s collides with the %s port", obs, name)
		}
	}
	return nil
}

// LogConfig logs the effective configuration. Secrets are reduced to presence flags.
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.Group("app",
			slog.String("name", c.App.Name),
			slog.String("version", c.App.Version),
			slog.String("environment", c.App.Environment),
			slog.String("log_level", c.App.LogLevel),
			slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		),
		slog.Group("server",
			slog.String("control_port", c.Server.Control.Port),
			slog.Bool("control_tls", c.Server.Control.TLS.Enabled),
			slog.Bool("control_auth", c.Server.Control.AuthEnabled()),
			slog.String("data_port", c.Server.Data.Port),
			slog.String("data_grpc_port", c.Server.Data.GRPCPort),
			slog.String("observability_port", c.Observability.Port),
		),
		slog.Group("flags",
			slog.Duration("staleness_window", c.Flags.StalenessWindow),
			slog.Duration("refresh_timeout", c.Flags.RefreshTimeout),
			slog.Int("projection_cache_size", c.Flags.ProjectionCacheSize),
		),
		slog.Group("deps",
			slog.Bool("db_configured", c.Database.IsConfigured()),
			slog.Bool("db_migrate_on_start", c.Database.MigrateOnStart),
			slog.Bool("redis_configured", c.Redis.IsConfigured()),
			slog.Bool("syncer_enabled", c.Syncer.Enabled),
			slog.String("syncer_channel", c.Syncer.Channel),
		),
	)
}
