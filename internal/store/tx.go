package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Tx is the subset of pgx.Tx the store package needs; it lets
// per-entity files accept either a pool-backed Exec or a transaction
// without importing pgx directly everywhere.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// WithTx runs fn inside a single serializable-enough (default
// read-committed, matching Postgres' default and sufficient given the
// row-level CAS pattern used throughout) transaction, committing on
// success and rolling back on error or panic. Every multi-statement
// operation in this package (activation, increment+threshold-check,
// result propagation) goes through WithTx so no component ever holds
// a transaction open across a channel send or bus call (spec §5).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = classify(tx.Commit(ctx))
	}()

	err = fn(ctx, tx)
	return err
}
