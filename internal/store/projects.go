package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// CreateProject inserts a new project, returning ErrIntegrity if the
// name is already taken.
func (s *Store) CreateProject(ctx context.Context, p *waterwheel.Project) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO project (id, name) VALUES ($1, $2)`, p.ID, p.Name)
	return classify(err)
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*waterwheel.Project, error) {
	var p waterwheel.Project
	err := s.Pool.QueryRow(ctx, `SELECT id, name FROM project WHERE id = $1`, id).
		Scan(&p.ID, &p.Name)
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}
