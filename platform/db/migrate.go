package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationResult summarises a migration run.
type MigrationResult struct {
	Applied []string
}

// RunMigrations applies all pending embedded migrations against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) (MigrationResult, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("open migrations: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("apply migrations: %w", err)
	}

	out := MigrationResult{Applied: make([]string, 0, len(results))}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out.Applied = append(out.Applied, r.Source.Path)
	}
	return out, nil
}
