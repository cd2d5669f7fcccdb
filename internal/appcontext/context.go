// Package appcontext carries request-scoped identity values.
package appcontext

import "context"

type tenantKey struct{}
type actorKey struct{}

// WithTenantID returns a context carrying the tenant id.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenantID returns the tenant id from the context, or "" if unset.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActorID returns a context carrying the acting user or process id.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// GetActorID returns the actor id from the context, or "" if unset.
func GetActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}
