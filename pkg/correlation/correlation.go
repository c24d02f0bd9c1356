// Package correlation carries a per-mutation identifier through contexts so
// logs, alerts and provider calls for one request or cron run can be tied
// together after the fact.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New returns a fresh correlation id.
func New() string {
	return uuid.New().String()
}

// WithID stores id on ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the id on ctx, or "" if none.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// Ensure returns ctx carrying an id, generating one when missing.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}
