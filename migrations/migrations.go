// Package migrations embeds the SQL schema of tenant and control databases.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed tenant/*.sql control/*.sql
var files embed.FS

// Target selects which database a migration set belongs to.
type Target string

const (
	Tenant  Target = "tenant"
	Control Target = "control"
)

// Files lists the migration files of a target in apply order.
func Files(target Target) ([]string, error) {
	names, err := fs.Glob(files, string(target)+"/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every migration of target. Statements are idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, target Target) error {
	names, err := Files(target)
	if err != nil {
		return err
	}
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("migrations: %s: %w", name, err)
		}
	}
	return nil
}
