package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// CreateTrigger inserts a new trigger row. Exactly one of Period/Cron
// must be set; the DB CHECK constraint enforces this as a backstop.
func (s *Store) CreateTrigger(ctx context.Context, t *waterwheel.Trigger) error {
	var periodSeconds *int
	if t.Period != nil {
		secs := int(t.Period.Seconds())
		periodSeconds = &secs
	}
	var cron *string
	if t.Cron != "" {
		cron = &t.Cron
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO trigger (id, job_id, name, comment, start_datetime, end_datetime,
		                      period_seconds, cron, trigger_offset_seconds, catchup,
		                      earliest_trigger_datetime, latest_trigger_datetime)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.JobID, t.Name, t.Comment, t.Start, t.End,
		periodSeconds, cron, int(t.TriggerOffset.Seconds()), t.Catchup.String(),
		t.Earliest, t.Latest)
	return classify(err)
}

// GetTrigger fetches a trigger by ID. Returns ErrNotFound if the
// trigger has been deleted — callers (notably the scheduler's
// trigger-update handler) rely on this to prune the heap.
func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (*waterwheel.Trigger, error) {
	row := s.Pool.QueryRow(ctx, triggerSelectSQL+` WHERE id = $1`, id)
	return scanTrigger(row)
}

// ListActiveTriggers returns every trigger whose owning job is not
// paused, for the scheduler's startup restore (spec §4.1 "startup
// restore from DB").
func (s *Store) ListActiveTriggers(ctx context.Context) ([]*waterwheel.Trigger, error) {
	rows, err := s.Pool.Query(ctx,
		triggerSelectSQL+` JOIN job ON job.id = trigger.job_id WHERE job.paused = false`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*waterwheel.Trigger
	for rows.Next() {
		t, err := scanTriggerRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, classify(rows.Err())
}

const triggerSelectSQL = `
	SELECT trigger.id, trigger.job_id, trigger.name, trigger.comment,
	       trigger.start_datetime, trigger.end_datetime, trigger.period_seconds,
	       trigger.cron, trigger.trigger_offset_seconds, trigger.catchup,
	       trigger.earliest_trigger_datetime, trigger.latest_trigger_datetime
	FROM trigger`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (*waterwheel.Trigger, error) {
	return scanTriggerRows(row)
}

func scanTriggerRows(row rowScanner) (*waterwheel.Trigger, error) {
	var t waterwheel.Trigger
	var periodSeconds *int
	var cron *string
	var catchupStr string
	var offsetSeconds int
	err := row.Scan(&t.ID, &t.JobID, &t.Name, &t.Comment, &t.Start, &t.End,
		&periodSeconds, &cron, &offsetSeconds, &catchupStr, &t.Earliest, &t.Latest)
	if err != nil {
		return nil, classify(err)
	}
	if periodSeconds != nil {
		d := time.Duration(*periodSeconds) * time.Second
		t.Period = &d
	}
	if cron != nil {
		t.Cron = *cron
	}
	t.TriggerOffset = time.Duration(offsetSeconds) * time.Second
	policy, perr := waterwheel.ParseCatchupPolicy(catchupStr)
	if perr != nil {
		return nil, perr
	}
	t.Catchup = policy
	return &t, nil
}

// UpdateWatermarks applies earliest = LEAST(earliest, dt), latest =
// GREATEST(latest, dt), matching spec §4.1 activate_trigger's
// post-increment watermark update. Must be called within the same
// transaction as the token increments it accompanies.
func (s *Store) UpdateWatermarks(ctx context.Context, tx Tx, triggerID uuid.UUID, dt time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE trigger SET
		   earliest_trigger_datetime = LEAST(COALESCE(earliest_trigger_datetime, $2), $2),
		   latest_trigger_datetime   = GREATEST(COALESCE(latest_trigger_datetime, $2), $2)
		 WHERE id = $1`, triggerID, dt)
	return classify(err)
}

// TriggerEdges returns every (task_id, edge_offset) pair for a
// trigger's outgoing edges, in DB row order (spec §5: "not guaranteed
// stable" outside of catchup's explicit ordering policies).
func (s *Store) TriggerEdges(ctx context.Context, triggerID uuid.UUID) ([]waterwheel.TriggerEdge, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT trigger_id, task_id, edge_offset_seconds FROM trigger_edge WHERE trigger_id = $1`,
		triggerID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var edges []waterwheel.TriggerEdge
	for rows.Next() {
		var e waterwheel.TriggerEdge
		var offsetSeconds int
		if err := rows.Scan(&e.TriggerID, &e.TaskID, &offsetSeconds); err != nil {
			return nil, classify(err)
		}
		e.EdgeOffset = time.Duration(offsetSeconds) * time.Second
		edges = append(edges, e)
	}
	return edges, classify(rows.Err())
}

// CreateTriggerEdge inserts a trigger->task fan-out edge.
func (s *Store) CreateTriggerEdge(ctx context.Context, e *waterwheel.TriggerEdge) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO trigger_edge (trigger_id, task_id, edge_offset_seconds) VALUES ($1, $2, $3)`,
		e.TriggerID, e.TaskID, int(e.EdgeOffset.Seconds()))
	return classify(err)
}
