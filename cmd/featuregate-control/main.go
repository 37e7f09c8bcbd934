// Package main initializes and runs the featuregate Control Plane service.
//
// It is the composition root for the administrative REST API: it applies
// database migrations, wires the flag service and handles the server lifecycle.
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
	"github.com/rafaeljc/featuregate/internal/controlapi"
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

	appLogger := logger.New(&cfg.App).With(slog.String("component", "control-plane"))
	slog.SetDefault(appLogger)
	cfg.LogConfig(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure & Wiring
	// -------------------------------------------------------------------------
	rt, err := app.Bootstrap(ctx, cfg, appLogger, app.Options{Migrate: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	rt.Start(workersCtx)

	obs := observability.NewServer(appLogger, &cfg.Observability, rt.Checkers()...)
	obs.Start()

	srvCfg := cfg.Server.Control
	skipAuth := !srvCfg.AuthEnabled()
	if skipAuth {
		// config.Load refuses this combination in production.
		appLogger.Warn("control plane authentication is DISABLED: no API key hash configured")
	}
	api := controlapi.NewAPIWithConfig(rt.Flags, appLogger, srvCfg.APIKeyHash, skipAuth)

	// -------------------------------------------------------------------------
	// 3. HTTP Server
	// -------------------------------------------------------------------------
	addr := net.JoinHostPort(srvCfg.Host, srvCfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.Router,
		ReadTimeout:       srvCfg.ReadTimeout,
		WriteTimeout:      srvCfg.WriteTimeout,
		ReadHeaderTimeout: srvCfg.ReadHeaderTimeout,
		IdleTimeout:       srvCfg.IdleTimeout,
		MaxHeaderBytes:    srvCfg.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("control plane listening", slog.String("addr", addr), slog.Bool("tls", srvCfg.TLS.Enabled))

		var err error
		if srvCfg.TLS.Enabled {
			err = server.ListenAndServeTLS(srvCfg.TLS.CertFile, srvCfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("control plane server failed: %w", err)
		}
	}()

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

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("control plane shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	cancelWorkers()
	rt.Wait()

	appLogger.Info("service exited")
	return serveErr
}
