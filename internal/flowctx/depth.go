// Package flowctx carries the ambient orchestration depth across a
// single call chain via context.Context, the idiomatic Go substitute
// for the flow-local value the delegation primitive needs: visible to
// everything reachable through the current chain of calls and awaits,
// isolated between unrelated concurrent requests. No pack example
// implements this concern directly; it is a direct application of
// context.WithValue to the ambient-depth requirement.
package flowctx

import "context"

type depthKey struct{}

// WithDepth returns a context carrying orchestration depth d.
func WithDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthKey{}, d)
}

// Depth returns the ambient orchestration depth, 0 if unset (top level).
func Depth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}
