// Package controlapi implements the REST API for the featuregate Control Plane.
package controlapi

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/featuregate/internal/flagservice"
	"github.com/rafaeljc/featuregate/internal/registry"
	"github.com/rafaeljc/featuregate/internal/store"
	"github.com/rafaeljc/featuregate/internal/validation"
)

// FlagAdmin is the administrative surface the API drives.
// *flagservice.Service satisfies it.
type FlagAdmin interface {
	ListAllFlags(ctx context.Context, actor flagservice.Actor) ([]store.Flag, error)
	GetFlag(ctx context.Context, actor flagservice.Actor, id string) (store.Flag, error)
	GetFlagByName(ctx context.Context, actor flagservice.Actor, name string) (store.Flag, error)
	CreateFlag(ctx context.Context, actor flagservice.Actor, d registry.Draft) (store.Flag, error)
	UpdateFlag(ctx context.Context, actor flagservice.Actor, id string, p registry.Patch) (store.Flag, error)
	ToggleFlag(ctx context.Context, actor flagservice.Actor, id string, enabled bool) (store.Flag, error)
	DeleteFlag(ctx context.Context, actor flagservice.Actor, id string) error
}

var _ FlagAdmin = (*flagservice.Service)(nil)

// API is the main struct that holds dependencies and the router for the Control Plane.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	flags  FlagAdmin
	logger *slog.Logger

	// apiKeyHash is the SHA-256 hash (hex) of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments only).
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(flags FlagAdmin, log *slog.Logger, apiKeyHash string) *API {
	return NewAPIWithConfig(flags, log, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over authentication.
// skipAuth must only be used in tests and local development.
func NewAPIWithConfig(flags FlagAdmin, log *slog.Logger, apiKeyHash string, skipAuth bool) *API {
	validation.AssertNotNilValue(flags, "flag admin")
	if log == nil {
		log = slog.Default()
	}
	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:     chi.NewRouter(),
		flags:      flags,
		logger:     log,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	// Metrics wraps everything below so 401s and panics are counted too.
	a.Router.Use(Metrics)
	a.Router.Use(RequestLogger(a.logger))
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)
		r.Use(resolveActor)

		r.Get("/flags", a.handleListFlags)
		r.Post("/flags", a.handleCreateFlag)
		r.Get("/flags/by-name/{name}", a.handleGetFlagByName)
		r.Get("/flags/{id}", a.handleGetFlag)
		r.Patch("/flags/{id}", a.handleUpdateFlag)
		r.Delete("/flags/{id}", a.handleDeleteFlag)
		r.Put("/flags/{id}/enabled", a.handleToggleFlag)
	})
}
