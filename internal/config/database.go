package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

// maxPostgresIdentifier is PostgreSQL's NAMEDATALEN - 1.
const maxPostgresIdentifier = 63

// secureSSLModes are the sslmode values that refuse plaintext connections.
var secureSSLModes = []string{"require", "verify-ca", "verify-full"}

// DatabaseConfig addresses the PostgreSQL instance holding the flags table,
// either by URL or by components.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	SSLMode  string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Connection Pool
	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	// Startup ping retries
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`

	// MonitorInterval is how often pool statistics are exported as metrics.
	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"15s" validate:"gt=0"`

	// MigrateOnStart applies pending goose migrations before the control plane serves.
	MigrateOnStart bool `envconfig:"MIGRATE_ON_START" default:"true"`
}

// ConnectionString returns URL verbatim, or builds one from the components
// with the credentials escaped.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Validate checks the chosen addressing form, the pool bounds and, in
// production, the password and sslmode.
func (c *DatabaseConfig) Validate(prod bool) error {
	var errs []error

	if c.URL != "" {
		if err := validatePostgresURL(c.URL); err != nil {
			errs = append(errs, fmt.Errorf("invalid database URL: %w", err))
		}
	} else {
		errs = append(errs,
			checkHostPort("database", c.Host, c.Port),
			checkToken("database name", c.Name),
			checkToken("database user", c.User),
			checkSecret("database", c.Password, prod),
		)
		if len(c.Name) > maxPostgresIdentifier {
			errs = append(errs, fmt.Errorf("database name cannot exceed %d characters", maxPostgresIdentifier))
		}
		if prod && !slices.Contains(secureSSLModes, c.SSLMode) {
			errs = append(errs, fmt.Errorf("database SSL mode must be one of %v in production environment", secureSSLModes))
		}
	}

	if c.MinConns > c.MaxConns {
		errs = append(errs, fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns))
	}

	return errors.Join(errs...)
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

func validatePostgresURL(dbURL string) error {
	parsed, err := parseEndpointURL(dbURL, "postgres", "postgresql")
	if err != nil {
		return err
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return errors.New("user is required in URL")
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		return errors.New("database name is required in URL path")
	}
	return nil
}
