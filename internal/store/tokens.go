package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// GetToken fetches a token row. Returns ErrNotFound if the row hasn't
// been created yet (it's created lazily on first increment, spec §3).
func (s *Store) GetToken(ctx context.Context, taskID uuid.UUID, triggerDatetime time.Time) (*waterwheel.Token, error) {
	var t waterwheel.Token
	var state string
	err := s.Pool.QueryRow(ctx,
		`SELECT task_id, trigger_datetime, count, threshold, state, updated_at
		 FROM token WHERE task_id = $1 AND trigger_datetime = $2`,
		taskID, triggerDatetime).
		Scan(&t.TaskID, &t.TriggerDatetime, &t.Count, &t.Threshold, &state, &t.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	t.State = waterwheel.TokenState(state)
	return &t, nil
}

// Increment applies spec §4.2's increment semantics within tx:
//
//	UPDATE token SET count = count + 1 WHERE (task_id, trigger_datetime) = (?, ?);
//	INSERT ... ON CONFLICT DO NOTHING   -- creates the row with threshold if missing
//
// threshold is computed from the task's in-degree (task_edge rows
// where child_task_id = taskID) the first time the row is touched.
// Returns the token's state *after* the increment so the caller can
// perform the threshold check without a second round trip.
func (s *Store) Increment(ctx context.Context, tx Tx, taskID uuid.UUID, triggerDatetime time.Time) (*waterwheel.Token, error) {
	// INSERT-first with ON CONFLICT DO NOTHING, then UPDATE: this
	// ordering (rather than UPDATE-then-INSERT) guarantees the row
	// exists before the UPDATE and avoids a lost increment racing the
	// row's lazy creation under concurrent producers, since the INSERT
	// takes the row lock first.
	threshold, err := s.inDegreeTx(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO token (task_id, trigger_datetime, count, threshold, state, updated_at)
		 VALUES ($1, $2, 0, $3, 'waiting', now())
		 ON CONFLICT (task_id, trigger_datetime) DO NOTHING`,
		taskID, triggerDatetime, threshold)
	if err != nil {
		return nil, classify(err)
	}

	// A zero-threshold token (a task with no task_edge prerequisites,
	// fired directly by a trigger) is eligible the moment its row
	// exists: count=0, threshold=0 already satisfies the threshold
	// check, so there is nothing to count. Incrementing it anyway
	// would push count past threshold and violate the token table's
	// CHECK constraint; the CASE guards that and matches "immediately
	// ready on first touch".
	row := tx.QueryRow(ctx,
		`UPDATE token SET count = CASE WHEN threshold > 0 THEN count + 1 ELSE count END, updated_at = now()
		 WHERE task_id = $1 AND trigger_datetime = $2
		 RETURNING task_id, trigger_datetime, count, threshold, state, updated_at`,
		taskID, triggerDatetime)

	var t waterwheel.Token
	var state string
	if err := row.Scan(&t.TaskID, &t.TriggerDatetime, &t.Count, &t.Threshold, &state, &t.UpdatedAt); err != nil {
		return nil, classify(err)
	}
	t.State = waterwheel.TokenState(state)
	return &t, nil
}

func (s *Store) inDegreeTx(ctx context.Context, tx Tx, childTaskID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx,
		`SELECT count(*) FROM task_edge WHERE child_task_id = $1`, childTaskID).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// TryActivate performs spec §4.2's conditional activation CAS:
//
//	UPDATE token SET state = 'active' WHERE ... AND state = 'waiting'
//	if rowcount == 1: dispatch(token, priority)
//
// It returns true exactly once per token even under concurrent
// callers, since only the caller that wins the WHERE state='waiting'
// race gets rowcount 1. Call this after Increment or after an
// explicit ProcessToken::Activate once count>=threshold.
func (s *Store) TryActivate(ctx context.Context, tx Tx, taskID uuid.UUID, triggerDatetime time.Time) (bool, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE token SET state = 'active', updated_at = now()
		 WHERE task_id = $1 AND trigger_datetime = $2 AND state = 'waiting'`,
		taskID, triggerDatetime)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// TryTerminate performs the CAS-before-propagate redesign mandated by
// spec §9: the parent token's state moves from any non-terminal state
// to result exactly once. Only the caller that wins this race may
// increment the token's children — this is what makes at-least-once
// bus redelivery result in exactly-once child propagation.
func (s *Store) TryTerminate(ctx context.Context, tx Tx, taskID uuid.UUID, triggerDatetime time.Time, result waterwheel.TaskResult) (bool, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE token SET state = $3, updated_at = now()
		 WHERE task_id = $1 AND trigger_datetime = $2
		   AND state NOT IN ('success', 'failure')`,
		taskID, triggerDatetime, string(result))
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Clear resets a token to waiting with count=0, per the ProcessToken
// ::Clear operator action (spec §4.2, §4.5).
func (s *Store) Clear(ctx context.Context, tx Tx, taskID uuid.UUID, triggerDatetime time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE token SET count = 0, state = 'waiting', updated_at = now()
		 WHERE task_id = $1 AND trigger_datetime = $2`,
		taskID, triggerDatetime)
	return classify(err)
}

// EnsureCreated lazily creates a token row with the given threshold if
// it doesn't exist yet, without incrementing its count. Used for
// manual ProcessToken::Activate on a token nothing has touched yet.
func (s *Store) EnsureCreated(ctx context.Context, tx Tx, taskID uuid.UUID, triggerDatetime time.Time) error {
	threshold, err := s.inDegreeTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO token (task_id, trigger_datetime, count, threshold, state, updated_at)
		 VALUES ($1, $2, 0, $3, 'waiting', now())
		 ON CONFLICT (task_id, trigger_datetime) DO NOTHING`,
		taskID, triggerDatetime, threshold)
	return classify(err)
}
