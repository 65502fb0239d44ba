package tenant

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// ActorHeader names the caller recorded in the audit trail.
const ActorHeader = "X-Actor"

// Middleware resolves the tenant of each request from its host and stores
// the handle and actor in the request context.
func Middleware(reg *Registry, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h, err := reg.Resolve(r.Context(), r.Host)
			if err != nil {
				if !httpx.IsClientError(err) {
					logger.Error("resolve tenant", slog.String("host", r.Host), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			ctx := ContextWithHandle(r.Context(), h)
			if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
				ctx = shared.ContextWithActor(ctx, actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
