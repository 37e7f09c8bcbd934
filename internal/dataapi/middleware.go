package dataapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/featuregate/internal/flagservice"
	"github.com/rafaeljc/featuregate/internal/observability"
	"github.com/rafaeljc/featuregate/internal/ruleengine"
)

// Subject headers set by the caller (usually an API gateway).
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// SubjectFromHeaders places the evaluation subject in the request context.
// Missing headers yield an anonymous subject, which only sees flags rolled
// out to 100% with no role restriction.
func SubjectFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := ruleengine.Subject{
			ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role: strings.TrimSpace(r.Header.Get(HeaderUserRole)),
		}
		next.ServeHTTP(w, r.WithContext(flagservice.WithSubject(r.Context(), subject)))
	})
}

// Metrics records evaluation request count and latency by route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "not_found"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.DataPlaneReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		observability.DataPlaneReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}

// recoverer turns a handler panic into a logged 500 with the standard error body.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic while serving evaluation",
					slog.Any("panic", rec),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("path", r.URL.Path),
				)
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, ErrorResponse{Code: CodeInternal, Message: "Internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
