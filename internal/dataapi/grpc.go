package dataapi

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/rafaeljc/featuregate/internal/config"
	"github.com/rafaeljc/featuregate/internal/validation"
)

// ServiceName is the health-checked service name. The empty name reports the
// same status for clients that check the server as a whole.
const ServiceName = "featuregate.v1.DataPlane"

// Readiness reports whether evaluations can be answered from a loaded snapshot.
type Readiness interface {
	Ready() bool
}

// GRPCServer exposes the standard gRPC health service whose status follows
// snapshot readiness.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	readiness Readiness
	logger    *slog.Logger
}

// NewGRPCServer builds the server with keepalive limits, the logging and
// metrics interceptors, health and reflection. Serving status starts as
// NOT_SERVING until the first readiness sync.
func NewGRPCServer(cfg *config.DataPlaneConfig, readiness Readiness, log *slog.Logger) *GRPCServer {
	validation.AssertNotNil(cfg, "data plane config")
	validation.AssertNotNilValue(readiness, "readiness source")
	if log == nil {
		log = slog.Default()
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryLogger(log), UnaryMetrics()),
		grpc.ChainStreamInterceptor(StreamLogger(log), StreamMetrics()),
		grpc.MaxConcurrentStreams(cfg.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:             cfg.KeepaliveTime,
			Timeout:          cfg.KeepaliveTimeout,
			MaxConnectionAge: cfg.MaxConnectionAge,
		}),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	// Reflection lets grpcurl inspect the server without local protos.
	reflection.Register(server)

	g := &GRPCServer{
		server:    server,
		health:    hs,
		readiness: readiness,
		logger:    log,
	}
	g.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return g
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.server.Serve(lis)
}

// WatchReadiness syncs the health status with snapshot readiness every
// interval until ctx is done, then reports NOT_SERVING for good.
func (g *GRPCServer) WatchReadiness(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.SyncStatus()
	for {
		select {
		case <-ctx.Done():
			// Shutdown pins every service to NOT_SERVING so load balancers drain us.
			g.health.Shutdown()
			return
		case <-ticker.C:
			g.SyncStatus()
		}
	}
}

// SyncStatus applies the current readiness to the health service.
func (g *GRPCServer) SyncStatus() {
	if g.readiness.Ready() {
		g.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}
	g.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (g *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(ServiceName, st)
}

// GracefulStop waits for in-flight RPCs until ctx expires, then forces the stop.
func (g *GRPCServer) GracefulStop(ctx context.Context) {
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("grpc graceful stop timed out, forcing stop")
		g.server.Stop()
	}
}
