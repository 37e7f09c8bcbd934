package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stores l in ctx. Middleware and interceptors use it to hand a
// request-scoped logger down to handlers and storage calls.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithContext, or slog.Default().
// It never returns nil.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// With returns a context whose logger carries the extra attributes,
// e.g. the actor of an admin request.
func With(ctx context.Context, args ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(args...))
}
