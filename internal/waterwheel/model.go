// Package waterwheel defines the core domain model shared by every
// scheduling component: projects, jobs, the task graph, triggers and
// the token bookkeeping that drives dataflow propagation.
package waterwheel

import (
	"time"

	"github.com/google/uuid"
)

// Project groups jobs under a unique name.
type Project struct {
	ID   uuid.UUID
	Name string
}

// Job is a named collection of tasks and triggers. A paused job is
// excluded from scheduling entirely.
type Job struct {
	ID            uuid.UUID
	Name          string
	ProjectID     uuid.UUID
	Paused        bool
	RawDefinition []byte
}

// Task is a node in a job's dataflow graph.
type Task struct {
	ID    uuid.UUID
	JobID uuid.UUID
	Name  string
	Image string
	Args  []string
	Env   []string
}

// EdgeKind selects which task_edge rows activate on a parent's
// completion.
type EdgeKind string

const (
	EdgeSuccess EdgeKind = "success"
	EdgeFailure EdgeKind = "failure"
)

// TaskEdge wires a parent task to a child task for a given completion
// kind. The count of incoming success/failure edges that match a
// child's ID is that child's token threshold.
type TaskEdge struct {
	ParentTaskID uuid.UUID
	ChildTaskID  uuid.UUID
	Kind         EdgeKind
}

// CatchupPolicy controls both whether a trigger backfills missed
// firings and the order backfilled tokens are posted to the token
// processor in.
type CatchupPolicy int

const (
	CatchupNone CatchupPolicy = iota
	CatchupEarliest
	CatchupLatest
	CatchupRandom
)

func (p CatchupPolicy) String() string {
	switch p {
	case CatchupEarliest:
		return "earliest"
	case CatchupLatest:
		return "latest"
	case CatchupRandom:
		return "random"
	default:
		return "none"
	}
}

// ParseCatchupPolicy parses the catchup column's textual form.
func ParseCatchupPolicy(s string) (CatchupPolicy, error) {
	switch s {
	case "", "none":
		return CatchupNone, nil
	case "earliest":
		return CatchupEarliest, nil
	case "latest":
		return CatchupLatest, nil
	case "random":
		return CatchupRandom, nil
	default:
		return CatchupNone, &ErrInvalidEnum{Field: "catchup", Value: s}
	}
}

// Trigger is a recurring schedule attached to a job. Exactly one of
// Period or Cron is set.
type Trigger struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	Name        string
	Comment     string
	Start       time.Time
	End         *time.Time
	Period      *time.Duration // seconds resolution, validated at upsert time
	Cron        string
	TriggerOffset time.Duration
	Catchup     CatchupPolicy

	// Watermarks: monotone bounds on every trigger_datetime ever
	// emitted by this trigger. Owned exclusively by the scheduler.
	Earliest *time.Time
	Latest   *time.Time
}

// IsCron reports whether the trigger advances via cron expression
// rather than fixed period.
func (t *Trigger) IsCron() bool { return t.Cron != "" }

// TriggerEdge fans a trigger's firing out to one token per outgoing
// edge, offsetting the child token's logical time.
type TriggerEdge struct {
	TriggerID  uuid.UUID
	TaskID     uuid.UUID
	EdgeOffset time.Duration
}

// TokenState is the token state machine from spec §4.5.
type TokenState string

const (
	TokenWaiting TokenState = "waiting"
	TokenActive  TokenState = "active"
	TokenRunning TokenState = "running"
	TokenSuccess TokenState = "success"
	TokenFailure TokenState = "failure"
)

// IsTerminal reports whether s is a terminal state that must never be
// re-incremented for the same logical time.
func (s TokenState) IsTerminal() bool {
	return s == TokenSuccess || s == TokenFailure
}

// Token is the pair (task instance identity, logical time): the unit
// of dataflow progress. Primary key is (TaskID, TriggerDatetime).
type Token struct {
	TaskID          uuid.UUID
	TriggerDatetime time.Time
	Count           int
	Threshold       int
	State           TokenState
	UpdatedAt       time.Time
}

// Eligible reports whether the token has reached its threshold and is
// still waiting to be promoted to active.
func (t *Token) Eligible() bool {
	return t.State == TokenWaiting && t.Count >= t.Threshold
}

// TaskPriority selects which bus partition a TaskRequest is published
// onto; the worker pool drains queues in descending priority order.
type TaskPriority string

const (
	PriorityBackFill TaskPriority = "backfill"
	PriorityLow      TaskPriority = "low"
	PriorityNormal   TaskPriority = "normal"
	PriorityHigh     TaskPriority = "high"
)

// Priorities lists every valid priority in dispatch precedence order,
// highest first.
var Priorities = []TaskPriority{PriorityHigh, PriorityNormal, PriorityLow, PriorityBackFill}

// TaskResult is the outcome a worker reports for one task instance.
type TaskResult string

const (
	ResultSuccess TaskResult = "success"
	ResultFailure TaskResult = "failure"
)

// EdgeKindFor maps a worker's reported result to the task_edge kind it
// activates.
func (r TaskResult) EdgeKindFor() EdgeKind {
	if r == ResultSuccess {
		return EdgeSuccess
	}
	return EdgeFailure
}

// ErrInvalidEnum reports a column value that doesn't match any known
// enum member.
type ErrInvalidEnum struct {
	Field string
	Value string
}

func (e *ErrInvalidEnum) Error() string {
	return "waterwheel: invalid " + e.Field + " value: " + e.Value
}
