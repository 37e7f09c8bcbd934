package flagservice

import (
	"context"

	"github.com/rafaeljc/featuregate/internal/ruleengine"
)

type subjectKey struct{}

// WithSubject returns a context carrying the already-resolved subject of the
// current session. Middleware sets it once per request.
func WithSubject(ctx context.Context, subject ruleengine.Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the subject stored by WithSubject.
func SubjectFromContext(ctx context.Context) (ruleengine.Subject, bool) {
	subject, ok := ctx.Value(subjectKey{}).(ruleengine.Subject)
	return subject, ok
}
