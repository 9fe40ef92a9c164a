// Package scope carries the tenant identity through context.Context.
// Every store operation and run is tenant-scoped; the API layer attaches
// the tenant after authentication and lower layers read it back.
package scope

import "context"

type tenantKey struct{}

// WithTenant attaches a tenant identifier to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// Tenant extracts the tenant identifier from the context.
// Returns an empty string if no tenant is present.
func Tenant(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}
