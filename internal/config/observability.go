package config

import (
	"fmt"
	"time"
)

// ObservabilityConfig configures the side server exposing probes and metrics.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds reads, writes and every readiness check.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz" validate:"startswith=/"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz" validate:"startswith=/"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics" validate:"startswith=/"`
}

// Validate checks the port and that each endpoint has its own path.
func (o *ObservabilityConfig) Validate() error {
	if err := checkPort("observability", o.Port); err != nil {
		return err
	}
	if o.LivenessPath == o.ReadinessPath || o.LivenessPath == o.MetricsPath || o.ReadinessPath == o.MetricsPath {
		return fmt.Errorf("observability paths must be distinct: liveness=%s readiness=%s metrics=%s",
			o.LivenessPath, o.ReadinessPath, o.MetricsPath)
	}
	return nil
}
