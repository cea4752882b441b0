package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// CreateJob inserts a new job row. A nil RawDefinition is stored as an
// empty JSON object.
func (s *Store) CreateJob(ctx context.Context, j *waterwheel.Job) error {
	rawDefinition := j.RawDefinition
	if rawDefinition == nil {
		rawDefinition = []byte("{}")
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO job (id, project_id, name, paused, raw_definition)
		 VALUES ($1, $2, $3, $4, $5)`,
		j.ID, j.ProjectID, j.Name, j.Paused, rawDefinition)
	return classify(err)
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*waterwheel.Job, error) {
	var j waterwheel.Job
	err := s.Pool.QueryRow(ctx,
		`SELECT id, project_id, name, paused, raw_definition FROM job WHERE id = $1`, id).
		Scan(&j.ID, &j.ProjectID, &j.Name, &j.Paused, &j.RawDefinition)
	if err != nil {
		return nil, classify(err)
	}
	return &j, nil
}

// IsJobPaused reports whether job's paused flag is set. Returns
// ErrNotFound if the job has been deleted.
func (s *Store) IsJobPaused(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var paused bool
	err := s.Pool.QueryRow(ctx, `SELECT paused FROM job WHERE id = $1`, jobID).Scan(&paused)
	if err != nil {
		return false, classify(err)
	}
	return paused, nil
}

// SetJobPaused updates a job's paused flag.
func (s *Store) SetJobPaused(ctx context.Context, jobID uuid.UUID, paused bool) error {
	_, err := s.Pool.Exec(ctx, `UPDATE job SET paused = $2 WHERE id = $1`, jobID, paused)
	return classify(err)
}

// DeleteJob removes a job; task/edge/trigger/token rows cascade per
// the FK constraints in the migration (spec §3 "Deleting a job
// cascades to its tasks, edges, triggers, and tokens").
func (s *Store) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM job WHERE id = $1`, jobID)
	return classify(err)
}
