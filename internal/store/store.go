// Package store is the relational persistence layer: Postgres via
// pgx, migrated with goose. It owns every DDL change (spec §6) and is
// the transactional boundary every core component commits its state
// changes through (spec §3's "Ownership & lifecycle").
package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a pgx connection pool. All entity-specific methods
// (projects, jobs, tasks, triggers, tokens) are defined in sibling
// files in this package, split by aggregate root for readability —
// matching the teacher's convention of one small file per concern
// rather than one giant repository type.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to databaseURL and returns a Store. Callers must call
// Close when done.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// Migrate applies every pending linear migration under migrations/.
func Migrate(databaseURL string) error {
	goose.SetBaseFS(migrationsFS)
	db, err := goose.OpenDBWithDriver("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("store: open for migration: %w", err)
	}
	defer db.Close()

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Migrate applies every pending migration against the pool this Store
// already holds, so callers that only have a *Store (the integration
// tests) don't need to thread the DSN through separately. The server
// command does not migrate; the migrate command calls the package-level
// Migrate.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(s.Pool.Config().ConnString())
}
