package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SchedulerAdvisoryLockKey is the fixed pg_advisory_lock key every
// waterwheel process uses to enforce spec §9's single-active-scheduler
// invariant: only one process may hold this lock against a given
// database at a time.
const SchedulerAdvisoryLockKey int64 = 0x57415457 // "WATW"

// AdvisoryLock holds a session-scoped Postgres advisory lock on a
// dedicated connection. pg_advisory_lock is tied to the session (the
// connection) that acquired it, not to a transaction, so this
// deliberately bypasses the pool: a pooled connection can be handed
// back and reused by an unrelated caller while the pool believes it is
// idle, which would silently release a lock the pool doesn't know it's
// holding. The connection is kept open for as long as the lock is
// needed and closed (which also releases the lock server-side) by
// Close.
type AdvisoryLock struct {
	conn *pgx.Conn
	key  int64
}

// AcquireSchedulerLock blocks until it can take the singleton
// scheduler lock described in spec §9. Call Close on the returned lock
// to release it.
func AcquireSchedulerLock(ctx context.Context, databaseURL string) (*AdvisoryLock, error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: advisory lock connect: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, SchedulerAdvisoryLockKey); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("store: acquire advisory lock: %w", err)
	}
	return &AdvisoryLock{conn: conn, key: SchedulerAdvisoryLockKey}, nil
}

// TryAcquireSchedulerLock attempts the same lock without blocking,
// returning ok=false if another session already holds it. Used by
// tests (and could back a future "fail fast instead of wait" startup
// mode) to prove the singleton invariant without hanging.
func TryAcquireSchedulerLock(ctx context.Context, databaseURL string) (lock *AdvisoryLock, ok bool, err error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, false, fmt.Errorf("store: advisory lock connect: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, SchedulerAdvisoryLockKey).Scan(&acquired); err != nil {
		conn.Close(ctx)
		return nil, false, fmt.Errorf("store: try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close(ctx)
		return nil, false, nil
	}
	return &AdvisoryLock{conn: conn, key: SchedulerAdvisoryLockKey}, true, nil
}

// Close releases the advisory lock and closes its dedicated
// connection.
func (l *AdvisoryLock) Close(ctx context.Context) error {
	_, unlockErr := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	closeErr := l.conn.Close(ctx)
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
