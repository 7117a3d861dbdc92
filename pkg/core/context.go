package core

import (
	"context"

	"github.com/google/uuid"
)

// runKey scopes the kickoff id on a context so logs, spans and audit
// records of one run can be joined.
type runKey struct{}

// WithRunID returns ctx carrying id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunID returns the run id carried by ctx, if any.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runKey{}).(string)
	return id, ok && id != ""
}

// EnsureRunID keeps an existing run id or mints a new one.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRunID(ctx, id), id
}
