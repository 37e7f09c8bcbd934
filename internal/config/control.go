package config

import (
	"errors"
	"time"
)

// ControlPlaneConfig configures the administrative REST API.
type ControlPlaneConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"` // 512KB

	// APIKeyHash is the hex SHA-256 of the admin API key.
	// Empty disables authentication, which production refuses.
	APIKeyHash string `envconfig:"API_KEY_HASH" validate:"omitempty,len=64,hexadecimal"`

	TLS TLSConfig `envconfig:"TLS"`
}

// AuthEnabled reports whether admin calls must present the API key.
func (c *ControlPlaneConfig) AuthEnabled() bool {
	return c.APIKeyHash != ""
}

// Validate checks the listener and, in production, that the API is neither
// anonymous nor plaintext.
func (c *ControlPlaneConfig) Validate(prod bool) error {
	errs := []error{
		checkPort("control plane", c.Port),
		checkToken("control plane host", c.Host),
		c.TLS.validate("control plane"),
	}

	if prod {
		if !c.AuthEnabled() {
			errs = append(errs, errors.New("control plane API key hash is required in production environment"))
		}
		if !c.TLS.Enabled {
			errs = append(errs, errors.New("control plane TLS must be enabled in production environment"))
		}
	}

	return errors.Join(errs...)
}
