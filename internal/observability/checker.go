package observability

import "context"

// Checker is a readiness dependency. Check must honour ctx: the probe
// cancels it after ObservabilityConfig.Timeout.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function into a named Checker.
func CheckFunc(name string, fn func(ctx context.Context) error) Checker {
	return funcChecker{name: name, fn: fn}
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcChecker) Name() string                    { return c.name }
func (c funcChecker) Check(ctx context.Context) error { return c.fn(ctx) }
