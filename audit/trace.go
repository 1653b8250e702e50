package audit

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// WithTraceID returns a context carrying id for audit entries written
// further down the call chain.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceIDFrom returns the trace id in ctx, or a fresh UUID when there is none
// (scheduler ticks and CLI runs).
func TraceIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(traceKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}
