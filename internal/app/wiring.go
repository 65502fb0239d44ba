package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-billing/internal/accounting"
	"github.com/odyssey-erp/odyssey-billing/internal/ap"
	"github.com/odyssey-erp/odyssey-billing/internal/ar"
	"github.com/odyssey-erp/odyssey-billing/internal/observability"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/sales/quotations"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// Tenants bundles the tenant registry with the resources backing it.
type Tenants struct {
	Registry *tenant.Registry
	close    []func()
}

// Close releases tenant pools and the control database pool.
func (t *Tenants) Close() {
	if t == nil {
		return
	}
	if t.Registry != nil {
		t.Registry.Close()
	}
	for i := len(t.close) - 1; i >= 0; i-- {
		t.close[i]()
	}
}

// OpenTenants builds the tenant registry for the configured mode. In multi
// mode the control database is opened and host lookups are cached in Redis
// when a client is given.
func OpenTenants(ctx context.Context, cfg *Config, redisClient *redis.Client, logger *slog.Logger) (*Tenants, error) {
	open := tenant.PoolOpener(cfg.TenantPoolMaxConns)
	if !cfg.MultiTenant() {
		logger.Info("tenant mode single")
		return &Tenants{Registry: tenant.NewRegistry(tenant.NewStaticDirectory(cfg.PGDSN), open)}, nil
	}

	control, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4, MaxConnIdleTime: 5 * time.Minute})
	if err != nil {
		return nil, err
	}
	var dir tenant.Directory = tenant.NewPgDirectory(control)
	if redisClient != nil && cfg.TenantCacheTTL > 0 {
		dir = tenant.NewCachedDirectory(dir, cache.NewJSON(redisClient, "odyssey:tenant", cfg.TenantCacheTTL))
	}
	logger.Info("tenant mode multi", slog.Duration("cache_ttl", cfg.TenantCacheTTL))
	return &Tenants{Registry: tenant.NewRegistry(dir, open), close: []func(){control.Close}}, nil
}

// Services holds the billing services shared by the HTTP server and the worker.
type Services struct {
	AR         *ar.Service
	Quotations *quotations.Service
	AP         *ap.Service
	Accounting *accounting.Service
}

// NewServices wires services on Postgres repositories.
func NewServices(metrics *observability.Metrics) Services {
	ledger := accounting.NewLedger()
	return Services{
		AR:         ar.NewService(ar.PostgresRepositories, ledger, metrics),
		Quotations: quotations.NewService(quotations.PostgresRepositories, metrics),
		AP:         ap.NewService(ap.PostgresRepositories, ledger, metrics),
		Accounting: accounting.NewService(accounting.PostgresRepositories),
	}
}

// CleanupIdempotency removes idempotency keys older than olderThan from a
// tenant database.
func CleanupIdempotency(ctx context.Context, h tenant.Handle, olderThan time.Duration) (int64, error) {
	return shared.NewIdempotencyStore(h.Pool).Cleanup(ctx, olderThan)
}
