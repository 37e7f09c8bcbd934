// Package dataapi implements the Data Plane: the read path applications use
// to evaluate flags over REST, plus a gRPC health endpoint for the mesh.
package dataapi

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/featuregate/internal/flagservice"
	"github.com/rafaeljc/featuregate/internal/ruleengine"
	"github.com/rafaeljc/featuregate/internal/validation"
)

// Evaluator is the consumer surface of the flag service.
type Evaluator interface {
	Evaluate(ctx context.Context, name string, subject ruleengine.Subject) ruleengine.Decision
	AvailableFlags(ctx context.Context, subject ruleengine.Subject) []string
}

var _ Evaluator = (*flagservice.Service)(nil)

// API serves flag evaluations over HTTP.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	flags  Evaluator
	logger *slog.Logger
}

// NewAPI creates the Data Plane REST API.
func NewAPI(flags Evaluator, log *slog.Logger) *API {
	validation.AssertNotNilValue(flags, "flag evaluator")
	if log == nil {
		log = slog.Default()
	}

	api := &API{
		Router: chi.NewRouter(),
		flags:  flags,
		logger: log,
	}
	api.configureRoutes()
	return api
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(Metrics)
	a.Router.Use(a.recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(SubjectFromHeaders)

		r.Get("/evaluate/{name}", a.handleEvaluate)
		r.Post("/evaluate", a.handleEvaluateBatch)
		r.Get("/flags/available", a.handleAvailableFlags)
	})
}
