package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/cache"
)

// Directory finds the tenant serving a host.
type Directory interface {
	Lookup(ctx context.Context, host string) (Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)
}

// PgDirectory reads the tenants table of the control database.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) Lookup(ctx context.Context, host string) (Tenant, error) {
	var t Tenant
	err := d.pool.QueryRow(ctx, `SELECT id, host, dsn, active FROM tenants WHERE host=$1`, NormalizeHost(host)).
		Scan(&t.ID, &t.Host, &t.DSN, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrUnknownHost
		}
		return Tenant{}, fmt.Errorf("tenant: lookup %s: %w", host, err)
	}
	if !t.Active {
		return Tenant{}, ErrUnknownHost
	}
	return t, nil
}

func (d *PgDirectory) ListActive(ctx context.Context) ([]Tenant, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, host, dsn, active FROM tenants WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("tenant: list: %w", err)
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Host, &t.DSN, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// StaticDirectory serves every host from one database. It backs
// TENANT_MODE=single.
type StaticDirectory struct {
	Tenant Tenant
}

// SingleTenantID names the tenant in single mode.
const SingleTenantID = "default"

func NewStaticDirectory(dsn string) *StaticDirectory {
	return &StaticDirectory{Tenant: Tenant{ID: SingleTenantID, DSN: dsn, Active: true}}
}

func (d *StaticDirectory) Lookup(ctx context.Context, host string) (Tenant, error) {
	t := d.Tenant
	t.Host = NormalizeHost(host)
	return t, nil
}

func (d *StaticDirectory) ListActive(ctx context.Context) ([]Tenant, error) {
	return []Tenant{d.Tenant}, nil
}

// CachedDirectory keeps host lookups in Redis for the cache TTL.
type CachedDirectory struct {
	next  Directory
	cache *cache.JSON
}

func NewCachedDirectory(next Directory, c *cache.JSON) *CachedDirectory {
	return &CachedDirectory{next: next, cache: c}
}

func (d *CachedDirectory) Lookup(ctx context.Context, host string) (Tenant, error) {
	host = NormalizeHost(host)
	var t Tenant
	err := d.cache.Fetch(ctx, d.cache.Key("host", host), &t, func(ctx context.Context) (any, error) {
		return d.next.Lookup(ctx, host)
	})
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

func (d *CachedDirectory) ListActive(ctx context.Context) ([]Tenant, error) {
	return d.next.ListActive(ctx)
}

// Forget drops the cached entry of a host, e.g. after a tenant is disabled.
func (d *CachedDirectory) Forget(ctx context.Context, host string) error {
	return d.cache.Invalidate(ctx, d.cache.Key("host", NormalizeHost(host)))
}
