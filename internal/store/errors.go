package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup by primary key finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrIntegrity wraps a Postgres unique/foreign-key violation. Per spec
// §7, integrity violations are programming errors inside the core —
// the HTTP admin boundary (external) is expected to map this to a 409.
type ErrIntegrity struct {
	Code string
	Err  error
}

func (e *ErrIntegrity) Error() string { return "store: integrity violation (" + e.Code + "): " + e.Err.Error() }
func (e *ErrIntegrity) Unwrap() error  { return e.Err }

// classify maps a raw pgx error to the taxonomy spec §7 describes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503": // unique_violation, foreign_key_violation
			return &ErrIntegrity{Code: pgErr.Code, Err: err}
		}
	}
	return err
}

// IsTransient reports whether err looks like a transient DB error
// (connection loss, serialization failure) that the calling
// component's supervisor should retry, per spec §7.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return pgErr.Code[:2] == "08" // connection_exception class
	}
	return errors.Is(err, pgx.ErrTxClosed)
}
