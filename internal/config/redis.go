package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxRedisDB is the highest logical database of a default Redis build.
const maxRedisDB = 15

// RedisConfig addresses the Redis instance carrying change notifications,
// either by URL or by components.
type RedisConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	// Connection Pool
	PoolSize        int           `envconfig:"POOL_SIZE" default:"50" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"10" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	// Startup ping retries
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// Address returns URL verbatim (the client parses it), or host:port.
func (c *RedisConfig) Address() string {
	if c.URL != "" {
		return c.URL
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the chosen addressing form, the pool bounds and, in
// production, the password and TLS.
func (c *RedisConfig) Validate(prod bool) error {
	var errs []error

	if c.URL != "" {
		if err := validateRedisURL(c.URL); err != nil {
			errs = append(errs, fmt.Errorf("invalid redis URL: %w", err))
		}
	} else {
		errs = append(errs,
			checkHostPort("redis", c.Host, c.Port),
			checkSecret("redis", c.Password, prod),
		)
		if prod && !c.TLSEnabled {
			errs = append(errs, errors.New("redis TLS must be enabled in production environment"))
		}
	}

	if c.MinIdleConns > c.PoolSize {
		errs = append(errs, fmt.Errorf("min_idle_conns (%d) cannot be greater than pool_size (%d)", c.MinIdleConns, c.PoolSize))
	}

	return errors.Join(errs...)
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

func validateRedisURL(redisURL string) error {
	parsed, err := parseEndpointURL(redisURL, "redis", "rediss")
	if err != nil {
		return err
	}

	// The optional path selects the logical database.
	dbStr := strings.TrimPrefix(parsed.Path, "/")
	if dbStr == "" {
		return nil
	}
	db, err := strconv.Atoi(dbStr)
	if err != nil {
		return fmt.Errorf("database number must be a valid integer: %s", dbStr)
	}
	if db < 0 || db > maxRedisDB {
		return fmt.Errorf("database number must be between 0 and %d, got %d", maxRedisDB, db)
	}
	return nil
}
