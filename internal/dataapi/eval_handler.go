package dataapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/featuregate/internal/flagservice"
)

// handleEvaluate processes GET /api/v1/evaluate/{name}.
//
// Evaluation never fails: unknown flags and an unloaded snapshot answer
// "not available" with reason NOT_FOUND, so the response is always 200.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	subject, _ := flagservice.SubjectFromContext(r.Context())

	decision := a.flags.Evaluate(r.Context(), name, subject)

	a.logger.Debug("flag evaluated",
		slog.String("flag_name", name),
		slog.String("subject_id", subject.ID),
		slog.String("reason", string(decision.Reason)),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, EvaluationResponse{Flag: name, Available: decision.Available, Reason: decision.Reason})
}

// handleEvaluateBatch processes POST /api/v1/evaluate.
func (a *API) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchEvaluationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: CodeInvalidJSON, Message: "Invalid JSON payload: " + err.Error()})
		return
	}
	if len(req.Flags) == 0 || len(req.Flags) > MaxBatchSize {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    CodeInvalidInput,
			Message: fmt.Sprintf("flags must list between 1 and %d names", MaxBatchSize),
		})
		return
	}

	subject, _ := flagservice.SubjectFromContext(r.Context())
	resp := BatchEvaluationResponse{Results: make([]EvaluationResponse, 0, len(req.Flags))}
	for _, name := range req.Flags {
		name = strings.TrimSpace(name)
		decision := a.flags.Evaluate(r.Context(), name, subject)
		resp.Results = append(resp.Results, EvaluationResponse{Flag: name, Available: decision.Available, Reason: decision.Reason})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleAvailableFlags processes GET /api/v1/flags/available.
func (a *API) handleAvailableFlags(w http.ResponseWriter, r *http.Request) {
	subject, _ := flagservice.SubjectFromContext(r.Context())

	names := a.flags.AvailableFlags(r.Context(), subject)
	if names == nil {
		names = []string{}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, AvailableFlagsResponse{Flags: names})
}
