// Package dispatch turns an activated token into a published
// TaskRequest: it is the thin seam between the token processor's
// activation decision and the bus, so activation logic never needs to
// know about Redis directly (spec §4.2, §6).
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/waterwheel/waterwheel/internal/bus"
	"github.com/waterwheel/waterwheel/internal/logger"
	"github.com/waterwheel/waterwheel/internal/metrics"
	"github.com/waterwheel/waterwheel/internal/store"
	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// recentDispatchCacheSize bounds how many just-published TaskRequests
// stay re-fetchable via GET /int-api/tasks/{task_run_id} (spec §6). A
// worker only ever needs this after a redelivery shortly following the
// original publish, so a bounded LRU is sufficient — there is no
// separate task-run history table.
const recentDispatchCacheSize = 4096

// Dispatcher publishes TaskRequests for activated tokens.
type Dispatcher struct {
	Store   *store.Store
	Bus     *bus.Bus
	Metrics *metrics.Registry
	Logger  logger.Logger

	recent *lru.Cache[uuid.UUID, waterwheel.TaskRequest]
}

// New constructs a Dispatcher.
func New(st *store.Store, b *bus.Bus, m *metrics.Registry, lg logger.Logger) *Dispatcher {
	cache, _ := lru.New[uuid.UUID, waterwheel.TaskRequest](recentDispatchCacheSize)
	return &Dispatcher{Store: st, Bus: b, Metrics: m, Logger: lg, recent: cache}
}

// Lookup returns a recently dispatched TaskRequest by its task_run_id,
// backing GET /int-api/tasks/{task_run_id}.
func (d *Dispatcher) Lookup(taskRunID uuid.UUID) (waterwheel.TaskRequest, bool) {
	return d.recent.Get(taskRunID)
}

// Dispatch loads the task/job/project a just-activated token belongs
// to and publishes a TaskRequest carrying a freshly minted task_run_id
// onto priority's stream.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID uuid.UUID, triggerDatetime time.Time, priority waterwheel.TaskPriority) error {
	task, err := d.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("dispatch: load task %s: %w", taskID, err)
	}
	job, err := d.Store.GetJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("dispatch: load job %s: %w", task.JobID, err)
	}
	project, err := d.Store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("dispatch: load project %s: %w", job.ProjectID, err)
	}

	req := &waterwheel.TaskRequest{
		TaskRunID:       uuid.New(),
		TaskID:          task.ID,
		TaskName:        task.Name,
		JobID:           job.ID,
		JobName:         job.Name,
		ProjectID:       project.ID,
		ProjectName:     project.Name,
		TriggerDatetime: triggerDatetime,
		Image:           task.Image,
		Args:            task.Args,
		Env:             task.Env,
		Priority:        priority,
	}

	if err := d.Bus.PublishTask(ctx, req); err != nil {
		return fmt.Errorf("dispatch: publish task %s: %w", taskID, err)
	}
	d.recent.Add(req.TaskRunID, *req)

	d.Metrics.ObserveDispatch(priority)
	d.Logger.Info("dispatched task",
		"task_id", taskID, "task_run_id", req.TaskRunID,
		"trigger_datetime", triggerDatetime, "priority", priority)
	return nil
}
