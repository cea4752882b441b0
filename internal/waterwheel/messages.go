package waterwheel

import (
	"time"

	"github.com/google/uuid"
)

// TaskRequest is published to a priority bus queue by the dispatcher
// and consumed by workers.
type TaskRequest struct {
	TaskRunID       uuid.UUID    `json:"task_run_id"`
	TaskID          uuid.UUID    `json:"task_id"`
	TaskName        string       `json:"task_name"`
	JobID           uuid.UUID    `json:"job_id"`
	JobName         string       `json:"job_name"`
	ProjectID       uuid.UUID    `json:"project_id"`
	ProjectName     string       `json:"project_name"`
	TriggerDatetime time.Time    `json:"trigger_datetime"`
	Image           string       `json:"image,omitempty"`
	Args            []string     `json:"args"`
	Env             []string     `json:"env,omitempty"`
	Priority        TaskPriority `json:"priority"`
}

// TaskResultMsg is published by workers on waterwheel.results.
type TaskResultMsg struct {
	TaskID          uuid.UUID  `json:"task_id"`
	TriggerDatetime time.Time  `json:"trigger_datetime"`
	Result          TaskResult `json:"result"`
	WorkerID        uuid.UUID  `json:"worker_id"`
}

// Heartbeat is posted by workers to /int-api/heartbeat.
type Heartbeat struct {
	UUID            uuid.UUID `json:"uuid"`
	Addr            string    `json:"addr"`
	LastSeenAt      time.Time `json:"last_seen_datetime"`
	RunningTasks    int       `json:"running_tasks"`
	TotalTasks      int       `json:"total_tasks"`
	Version         string    `json:"version"`
}

// ProcessTokenKind discriminates the ProcessToken message variants
// consumed by the token processor.
type ProcessTokenKind int

const (
	// ProcessIncrement increments a token's count, then checks its
	// threshold. Used when nothing has touched this token's count yet
	// for this activation (the progress ingester's child propagation).
	ProcessIncrement ProcessTokenKind = iota
	// ProcessCheckThreshold checks a token's already-current count
	// against its threshold and attempts activation, without
	// incrementing. The trigger scheduler uses this after it has
	// already incremented the token durably inside its own activation
	// transaction, so the count is never applied twice.
	ProcessCheckThreshold
	// ProcessActivate explicitly activates a token (e.g. a manual
	// re-run), bypassing the increment step.
	ProcessActivate
	// ProcessClear resets a token to waiting with count=0.
	ProcessClear
)

// ProcessToken is the post office message the trigger scheduler and
// progress ingester post, and the token processor consumes.
type ProcessToken struct {
	Kind            ProcessTokenKind
	TaskID          uuid.UUID
	TriggerDatetime time.Time
	Priority        TaskPriority
}
