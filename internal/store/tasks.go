package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// CreateTask inserts a new task row. Nil Args or Env are stored as
// empty arrays, like the columns' defaults.
func (s *Store) CreateTask(ctx context.Context, t *waterwheel.Task) error {
	args, env := t.Args, t.Env
	if args == nil {
		args = []string{}
	}
	if env == nil {
		env = []string{}
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO task (id, job_id, name, image, args, env) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.JobID, t.Name, t.Image, args, env)
	return classify(err)
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*waterwheel.Task, error) {
	var t waterwheel.Task
	err := s.Pool.QueryRow(ctx,
		`SELECT id, job_id, name, image, args, env FROM task WHERE id = $1`, id).
		Scan(&t.ID, &t.JobID, &t.Name, &t.Image, &t.Args, &t.Env)
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// CreateTaskEdge wires a parent task to a child task for a completion
// kind. Admission-time cycle validation (spec §9) is the HTTP admin
// layer's job; the engine assumes edges are acyclic by construction.
func (s *Store) CreateTaskEdge(ctx context.Context, e *waterwheel.TaskEdge) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO task_edge (parent_task_id, child_task_id, kind) VALUES ($1, $2, $3)`,
		e.ParentTaskID, e.ChildTaskID, string(e.Kind))
	return classify(err)
}

// ChildEdges returns every task_edge row whose parent is parentTaskID
// and whose kind matches the reported result, used by the progress
// ingester to find which children to propagate to (spec §4.3 step 1).
func (s *Store) ChildEdges(ctx context.Context, parentTaskID uuid.UUID, kind waterwheel.EdgeKind) ([]waterwheel.TaskEdge, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT parent_task_id, child_task_id, kind FROM task_edge
		 WHERE parent_task_id = $1 AND kind = $2`, parentTaskID, string(kind))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var edges []waterwheel.TaskEdge
	for rows.Next() {
		var e waterwheel.TaskEdge
		var kindStr string
		if err := rows.Scan(&e.ParentTaskID, &e.ChildTaskID, &kindStr); err != nil {
			return nil, classify(err)
		}
		e.Kind = waterwheel.EdgeKind(kindStr)
		edges = append(edges, e)
	}
	return edges, classify(rows.Err())
}

// InDegree returns the number of task_edge rows for which childTaskID
// is the child — the static threshold for a token on that task (spec
// §4.2).
func (s *Store) InDegree(ctx context.Context, childTaskID uuid.UUID) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT count(*) FROM task_edge WHERE child_task_id = $1`, childTaskID).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}
