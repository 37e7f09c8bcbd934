package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaeljc/featuregate/internal/config"
)

// Server exposes probes and metrics on their own port, next to the API of
// either plane.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	checkers []Checker
	mux      *chi.Mux

	mu  sync.Mutex
	srv *http.Server
}

// NewServer wires the liveness, readiness and metrics routes.
// Readiness passes only while every checker passes.
func NewServer(log *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	s := &Server{
		logger:   log.With(slog.String("component", "observability")),
		cfg:      cfg,
		checkers: checkers,
		mux:      chi.NewRouter(),
	}

	s.mux.Use(middleware.Recoverer, middleware.NoCache)
	s.mux.Get(cfg.LivenessPath, s.live)
	s.mux.Get(cfg.ReadinessPath, s.ready)
	s.mux.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())

	return s
}

// Handler returns the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens in the background. Serve errors are logged, not returned:
// losing probes must not take the API down with it.
func (s *Server) Start() {
	srv := &http.Server{
		Addr:         net.JoinHostPort("", s.cfg.Port),
		Handler:      s.mux,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
		IdleTimeout:  3 * s.cfg.Timeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("observability server listening",
		slog.String("addr", srv.Addr),
		slog.String("metrics_path", s.cfg.MetricsPath),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown drains the listener. It is a no-op if Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readinessResponse struct {
	Status map[string]string `json:"status"`
}

// ready runs the checkers concurrently under one deadline.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	errs := make([]error, len(s.checkers))
	var wg sync.WaitGroup
	for i, c := range s.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	code := http.StatusOK
	resp := readinessResponse{Status: make(map[string]string, len(s.checkers))}
	for i, c := range s.checkers {
		if errs[i] == nil {
			resp.Status[c.Name()] = "up"
			continue
		}
		code = http.StatusServiceUnavailable
		resp.Status[c.Name()] = fmt.Sprintf("down: %v", errs[i])
		s.logger.Warn("readiness check failed",
			slog.String("dependency", c.Name()),
			slog.String("error", errs[i].Error()),
		)
	}

	render.Status(r, code)
	render.JSON(w, r, resp)
}
