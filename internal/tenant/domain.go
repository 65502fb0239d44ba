// Package tenant resolves the database a request belongs to.
//
// Each tenant owns its own Postgres database. The HTTP edge resolves the
// tenant from the request host once and then passes the resulting Handle
// explicitly into every service call.
package tenant

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Tenant is a row of the control-plane tenants directory.
type Tenant struct {
	ID     string `json:"id"`
	Host   string `json:"host"`
	DSN    string `json:"dsn"`
	Active bool   `json:"active"`
}

// Handle is the explicit per-request tenant context handed to services.
type Handle struct {
	ID   string
	Pool *pgxpool.Pool
}

// ErrUnknownHost is returned when no active tenant serves the host.
var ErrUnknownHost = shared.NotFound("tenant not found for host")

// NormalizeHost lower-cases the host and strips any port.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.Contains(host[:idx], ":") {
		host = host[:idx]
	}
	return host
}

type handleKey struct{}

// ContextWithHandle stores the handle resolved by the HTTP middleware.
func ContextWithHandle(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// HandleFromContext extracts the handle stored by the middleware.
func HandleFromContext(ctx context.Context) (Handle, bool) {
	h, ok := ctx.Value(handleKey{}).(Handle)
	return h, ok
}

// FromContext returns the handle or ErrUnknownHost when the middleware did
// not resolve one.
func FromContext(ctx context.Context) (Handle, error) {
	h, ok := HandleFromContext(ctx)
	if !ok {
		return Handle{}, ErrUnknownHost
	}
	return h, nil
}
