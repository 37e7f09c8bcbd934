package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// minProductionSecret is the shortest password accepted in production.
const minProductionSecret = 12

// TLSConfig names the certificate pair of a TLS listener.
type TLSConfig struct {
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
	CertFile string `envconfig:"CERT_FILE"`
	KeyFile  string `envconfig:"KEY_FILE"`
}

func (t *TLSConfig) validate(kind string) error {
	if t.Enabled && (t.CertFile == "" || t.KeyFile == "") {
		return fmt.Errorf("%s TLS enabled but cert or key file not specified", kind)
	}
	return nil
}

// checkPort accepts a decimal port in 1..65535.
func checkPort(kind, port string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", kind)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", kind, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", kind, n)
	}
	return nil
}

// checkToken accepts a non-empty value without surrounding whitespace
// (hosts, database names, user names).
func checkToken(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s cannot contain whitespace", kind)
	}
	return nil
}

// checkSecret enforces presence and length of a password in production only.
func checkSecret(kind, secret string, prod bool) error {
	if !prod {
		return nil
	}
	if secret == "" {
		return fmt.Errorf("%s password is required in production environment", kind)
	}
	if len(secret) < minProductionSecret {
		return fmt.Errorf("%s password must be at least %d characters in production", kind, minProductionSecret)
	}
	return nil
}

// checkHostPort validates the component form of an endpoint.
func checkHostPort(kind, host, port string) error {
	return errors.Join(checkToken(kind+" host", host), checkPort(kind, port))
}

// parseEndpointURL parses a connection URL and checks scheme and host.
func parseEndpointURL(rawURL string, schemes ...string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(schemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, schemes)
	}
	if parsed.Host == "" {
		return nil, errors.New("host is required in URL")
	}
	return parsed, nil
}
