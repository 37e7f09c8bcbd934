package controlapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/featuregate/internal/flagservice"
	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/registry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// handleCreateFlag processes POST /api/v1/flags.
// The flag is visible to evaluations on this instance before the 201 is written.
func (a *API) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var req CreateFlagRequest
	if !decode(w, r, &req) {
		return
	}

	flag, err := a.flags.CreateFlag(r.Context(), actorFrom(r.Context()), req.draft())
	if err != nil {
		writeError(w, r, "create", err)
		return
	}

	logger.FromContext(r.Context()).Info("flag created",
		slog.String("flag_id", flag.ID),
		slog.String("flag_name", flag.Name),
		slog.String("actor", actorFrom(r.Context()).ID),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toResponse(flag))
}

// handleListFlags processes GET /api/v1/flags?page=&page_size=.
// Flags are ordered by creation time.
func (a *API) handleListFlags(w http.ResponseWriter, r *http.Request) {
	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		writeBadQuery(w, r, err)
		return
	}
	pageSize, err := parseOptionalInt(r, "page_size", defaultPageSize)
	if err != nil {
		writeBadQuery(w, r, err)
		return
	}

	// Out-of-bounds values are clamped, not rejected.
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	flags, err := a.flags.ListAllFlags(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, "list", err)
		return
	}

	total := len(flags)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)

	data := make([]Flag, 0, end-start)
	for _, f := range flags[start:end] {
		data = append(data, toResponse(f))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: data,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  (total + pageSize - 1) / pageSize,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetFlag processes GET /api/v1/flags/{id}.
func (a *API) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := a.flags.GetFlag(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get", err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResponse(flag))
}

// handleGetFlagByName processes GET /api/v1/flags/by-name/{name}.
func (a *API) handleGetFlagByName(w http.ResponseWriter, r *http.Request) {
	flag, err := a.flags.GetFlagByName(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, "get", err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResponse(flag))
}

// handleUpdateFlag processes PATCH /api/v1/flags/{id}.
func (a *API) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	var req UpdateFlagRequest
	if !decode(w, r, &req) {
		return
	}

	flag, err := a.flags.UpdateFlag(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		writeError(w, r, "update", err)
		return
	}

	logger.FromContext(r.Context()).Info("flag updated",
		slog.String("flag_id", flag.ID),
		slog.Int64("version", flag.Version),
		slog.String("actor", actorFrom(r.Context()).ID),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResponse(flag))
}

// handleToggleFlag processes PUT /api/v1/flags/{id}/enabled.
func (a *API) handleToggleFlag(w http.ResponseWriter, r *http.Request) {
	var req ToggleFlagRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    CodeInvalidInput,
			Message: "enabled is required",
			Details: []ErrorDetail{{Field: "enabled", Issue: "must be present"}},
		})
		return
	}

	flag, err := a.flags.ToggleFlag(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		writeError(w, r, "toggle", err)
		return
	}

	logger.FromContext(r.Context()).Info("flag toggled",
		slog.String("flag_id", flag.ID),
		slog.Bool("enabled", flag.Enabled),
		slog.String("actor", actorFrom(r.Context()).ID),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResponse(flag))
}

// handleDeleteFlag processes DELETE /api/v1/flags/{id}.
func (a *API) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.flags.DeleteFlag(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeError(w, r, "delete", err)
		return
	}

	logger.FromContext(r.Context()).Info("flag deleted",
		slog.String("flag_id", id),
		slog.String("actor", actorFrom(r.Context()).ID),
	)
	render.NoContent(w, r)
}

// --- Private Helpers ---

// decode reads the JSON body into v and writes a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    CodeInvalidJSON,
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}
	return true
}

// writeError maps flag service errors onto the HTTP contract.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		status = http.StatusInternalServerError
		resp   = ErrorResponse{Code: CodeInternal, Message: "Internal error"}
		verr   *registry.ValidationError
	)

	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp = ErrorResponse{
			Code:    CodeInvalidInput,
			Message: err.Error(),
			Details: []ErrorDetail{{Field: verr.Field, Issue: verr.Reason}},
		}
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
		resp = ErrorResponse{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, registry.ErrDuplicateName):
		status = http.StatusConflict
		resp = ErrorResponse{Code: CodeDuplicateName, Message: err.Error()}
	case errors.Is(err, registry.ErrConflict):
		status = http.StatusConflict
		resp = ErrorResponse{Code: CodeConflict, Message: err.Error()}
	case errors.Is(err, flagservice.ErrForbidden):
		status = http.StatusForbidden
		resp = ErrorResponse{Code: CodeForbidden, Message: "An X-Actor-ID header is required to manage flags"}
	default:
		logger.FromContext(r.Context()).Error("flag operation failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

func writeBadQuery(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Code: CodeInvalidQueryParam, Message: err.Error()})
}

// parseOptionalInt extracts an integer from the query string.
// A missing parameter yields defaultValue; only a malformed one is an error.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}
