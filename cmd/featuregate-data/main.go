// Package main initializes and runs the featuregate Data Plane service.
//
// It serves flag evaluations over REST from the in-memory snapshot and
// exposes a gRPC health service that follows snapshot readiness.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/featuregate/internal/app"
	"github.com/rafaeljc/featuregate/internal/config"
	"github.com/rafaeljc/featuregate/internal/dataapi"
	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLogger := logger.New(&cfg.App).With(slog.String("component", "data-plane"))
	slog.SetDefault(appLogger)
	cfg.LogConfig(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure & Wiring
	// -------------------------------------------------------------------------
	rt, err := app.Bootstrap(ctx, cfg, appLogger, app.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	rt.Start(workersCtx)

	obs := observability.NewServer(appLogger, &cfg.Observability, rt.Checkers()...)
	obs.Start()

	srvCfg := cfg.Server.Data
	api := dataapi.NewAPI(rt.Flags, appLogger)
	grpcServer := dataapi.NewGRPCServer(&srvCfg, rt.Flags, appLogger)

	// -------------------------------------------------------------------------
	// 3. Servers
	// -------------------------------------------------------------------------
	// Bind the gRPC port first (fail fast).
	grpcAddr := net.JoinHostPort(srvCfg.Host, srvCfg.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to bind grpc port %s: %w", srvCfg.GRPCPort, err)
	}

	httpAddr := net.JoinHostPort(srvCfg.Host, srvCfg.Port)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      api.Router,
		ReadTimeout:  srvCfg.ReadTimeout,
		WriteTimeout: srvCfg.WriteTimeout,
		IdleTimeout:  srvCfg.IdleTimeout,
	}

	errChan := make(chan error, 2)
	go func() {
		appLogger.Info("grpc server listening", slog.String("addr", grpcAddr))
		if err := grpcServer.Serve(listener); err != nil {
			errChan <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()
	go func() {
		appLogger.Info("data plane listening", slog.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("data plane server failed: %w", err)
		}
	}()
	go grpcServer.WatchReadiness(workersCtx, cfg.Server.Data.ReadinessInterval)

	// -------------------------------------------------------------------------
	// 4. Graceful Shutdown
	// -------------------------------------------------------------------------
	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		appLogger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// Health flips to NOT_SERVING first so the mesh stops routing to us.
	grpcServer.GracefulStop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("data plane shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	cancelWorkers()
	rt.Wait()

	appLogger.Info("service exited")
	return serveErr
}
