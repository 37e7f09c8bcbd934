package config

import (
	"errors"
	"fmt"
	"time"
)

// DataPlaneConfig configures the evaluation servers: REST for applications
// and gRPC for health checking by the mesh.
type DataPlaneConfig struct {
	Port     string `envconfig:"PORT" default:"8081"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50051"`
	Host     string `envconfig:"HOST" default:"0.0.0.0"`

	// HTTP specific
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	// gRPC specific
	MaxConcurrentStreams uint32        `envconfig:"MAX_CONCURRENT_STREAMS" default:"100" validate:"min=1"`
	KeepaliveTime        time.Duration `envconfig:"KEEPALIVE_TIME" default:"120s"`
	KeepaliveTimeout     time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"20s"`
	MaxConnectionAge     time.Duration `envconfig:"MAX_CONNECTION_AGE" default:"300s"`

	// ReadinessInterval is how often the gRPC health status follows the snapshot state.
	ReadinessInterval time.Duration `envconfig:"READINESS_INTERVAL" default:"1s" validate:"gt=0"`
}

// Validate checks both listeners. They share a host and must not share a port.
func (c *DataPlaneConfig) Validate() error {
	errs := []error{
		checkPort("data plane", c.Port),
		checkPort("data plane grpc", c.GRPCPort),
		checkToken("data plane host", c.Host),
	}
	if c.Port == c.GRPCPort {
		errs = append(errs, fmt.Errorf("data plane http and grpc ports must differ, both are %s", c.Port))
	}
	return errors.Join(errs...)
}
