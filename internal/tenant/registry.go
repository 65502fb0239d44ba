package tenant

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
)

// OpenFunc opens a connection pool for a tenant DSN.
type OpenFunc func(ctx context.Context, dsn string) (*pgxpool.Pool, error)

// PoolOpener returns an OpenFunc that caps each tenant pool at maxConns.
func PoolOpener(maxConns int32) OpenFunc {
	return func(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
		pool, err := db.New(ctx, dsn, db.Options{MaxConns: maxConns})
		if err != nil {
			return nil, fmt.Errorf("tenant: open pool: %w", err)
		}
		return pool, nil
	}
}

// Registry resolves hosts to tenant handles and owns the per-tenant pools.
// Pools are opened lazily; concurrent first requests for the same tenant
// share one open.
type Registry struct {
	dir   Directory
	open  OpenFunc
	group singleflight.Group

	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
}

func NewRegistry(dir Directory, open OpenFunc) *Registry {
	return &Registry{dir: dir, open: open, pools: map[string]*pgxpool.Pool{}}
}

// Resolve returns the handle for the tenant serving host.
func (r *Registry) Resolve(ctx context.Context, host string) (Handle, error) {
	t, err := r.dir.Lookup(ctx, host)
	if err != nil {
		return Handle{}, err
	}
	return r.Handle(ctx, t)
}

// Handle returns the handle of a known tenant, opening its pool on first use.
func (r *Registry) Handle(ctx context.Context, t Tenant) (Handle, error) {
	r.mu.RLock()
	pool, ok := r.pools[t.ID]
	r.mu.RUnlock()
	if ok {
		return Handle{ID: t.ID, Pool: pool}, nil
	}

	ch := r.group.DoChan(t.ID, func() (any, error) {
		r.mu.RLock()
		existing, ok := r.pools[t.ID]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}
		// The open outlives the request that triggered it.
		opened, err := r.open(context.WithoutCancel(ctx), t.DSN)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.pools[t.ID] = opened
		r.mu.Unlock()
		return opened, nil
	})
	select {
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Handle{}, res.Err
		}
		return Handle{ID: t.ID, Pool: res.Val.(*pgxpool.Pool)}, nil
	}
}

// ForEach runs fn for every active tenant with at most limit tenants in
// flight. It returns the first error after all started calls finish.
func (r *Registry) ForEach(ctx context.Context, limit int, fn func(context.Context, Handle) error) error {
	tenants, err := r.dir.ListActive(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, t := range tenants {
		g.Go(func() error {
			h, err := r.Handle(ctx, t)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", t.ID, err)
			}
			if err := fn(ctx, h); err != nil {
				return fmt.Errorf("tenant %s: %w", t.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every opened pool.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pool := range r.pools {
		if pool != nil {
			pool.Close()
		}
		delete(r.pools, id)
	}
}
