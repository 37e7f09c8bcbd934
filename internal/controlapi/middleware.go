package controlapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/featuregate/internal/flagservice"
	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/observability"
)

const (
	// HeaderAPIKey carries the plaintext API key.
	HeaderAPIKey = "X-API-Key"
	// HeaderActorID names the person or system behind an admin call.
	HeaderActorID = "X-Actor-ID"
)

type actorKey struct{}

// RequestLogger logs the outcome of each request and injects a request-scoped
// logger (carrying request_id) that handlers retrieve with logger.FromContext.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := base.With(slog.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLogger)))

			// Info for success, Warn for 4xx, Error for 5xx
			level := slog.LevelInfo
			status := ww.Status()
			if status >= 500 {
				level = slog.LevelError
			} else if status >= 400 {
				level = slog.LevelWarn
			}

			reqLogger.LogAttrs(r.Context(), level, "HTTP request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_ip", r.RemoteAddr),
			)
		})
	}
}

// Metrics records request count and latency labelled by the matched route
// pattern, never the raw path, to keep label cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := routeLabel(r)
		observability.ControlPlaneReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		observability.ControlPlaneReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}

// routeLabel returns the chi route pattern, or "not_found" for unmatched paths.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "not_found"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "not_found"
}

// authenticateAPIKey compares the SHA-256 of the presented key with the
// configured hash in constant time.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(HeaderAPIKey)
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}

		sum := sha256.Sum256([]byte(key))
		presented := hex.EncodeToString(sum[:])

		if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(strings.ToLower(a.apiKeyHash))) != 1 {
			logger.FromContext(r.Context()).Warn("rejected request with invalid api key")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    CodeUnauthorized,
				Message: "A valid API key is required",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// resolveActor builds the flag actor from X-Actor-ID. Anonymous callers are
// authenticated but may not manage flags: every admin write is attributable.
func resolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		actor := flagservice.Actor{ID: id, CanMutateFlags: id != ""}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		if id != "" {
			ctx = logger.With(ctx, slog.String("actor_id", id))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(ctx context.Context) flagservice.Actor {
	actor, _ := ctx.Value(actorKey{}).(flagservice.Actor)
	return actor
}
