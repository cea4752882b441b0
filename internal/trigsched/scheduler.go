// Package trigsched implements the Trigger Scheduler: the time-ordered
// min-heap that decides when each recurring trigger should fire,
// including historical catch-up when the scheduler has been offline
// or a trigger's definition has changed (spec §4.1).
package trigsched

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/logger"
	"github.com/waterwheel/waterwheel/internal/metrics"
	"github.com/waterwheel/waterwheel/internal/postoffice"
	"github.com/waterwheel/waterwheel/internal/store"
	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// Clock abstracts wall-clock time so catchup and sleep-duration logic
// can be driven deterministically in tests.
type Clock func() time.Time

// Scheduler owns the in-memory heap exclusively; it is never touched
// by any other goroutine (spec §5 "the heap is owned exclusively by
// the scheduler task").
type Scheduler struct {
	Store      *store.Store
	PostOffice *postoffice.PostOffice
	Metrics    *metrics.Registry
	Logger     logger.Logger
	Clock      Clock

	h      ttHeap
	epoch  map[uuid.UUID]int
}

// New constructs a Scheduler with a real wall-clock.
func New(st *store.Store, po *postoffice.PostOffice, m *metrics.Registry, lg logger.Logger) *Scheduler {
	return &Scheduler{
		Store:      st,
		PostOffice: po,
		Metrics:    m,
		Logger:     lg,
		Clock:      time.Now,
		epoch:      make(map[uuid.UUID]int),
	}
}

func (s *Scheduler) push(t *triggerTime) {
	t.epoch = s.epoch[t.TriggerID]
	heap.Push(&s.h, t)
}

func (s *Scheduler) isStale(t *triggerTime) bool {
	return t.epoch != s.epoch[t.TriggerID]
}

// Run is the scheduler's main single-threaded state machine (spec
// §4.1's numbered steps). It is the loop function handed to a
// supervisor.Supervisor by the server command.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		return fmt.Errorf("trigsched: startup restore: %w", err)
	}

	for {
		s.drainUpdates(ctx)

		s.Metrics.TriggersQueued.Set(float64(s.h.Len()))

		if s.h.Len() == 0 {
			select {
			case <-ctx.Done():
				return nil
			case id := <-s.PostOffice.TriggerUpdate:
				if err := s.handleUpdate(ctx, id); err != nil {
					return err
				}
				continue
			}
		}

		t := heap.Pop(&s.h).(*triggerTime)
		if s.isStale(t) {
			continue
		}

		now := s.Clock()
		delay := t.ScheduledDatetime.Sub(now)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case id := <-s.PostOffice.TriggerUpdate:
				timer.Stop()
				// Put the sleeping entry back before handling the
				// update so a concurrent unrelated fire is never
				// lost (spec §5 Cancellation).
				heap.Push(&s.h, t)
				if err := s.handleUpdate(ctx, id); err != nil {
					return err
				}
				continue
			case <-timer.C:
				if err := s.fire(ctx, t, false); err != nil {
					return err
				}
			}
		} else {
			if err := s.fire(ctx, t, true); err != nil {
				return err
			}
		}
	}
}

// fire requeues t's successor and then activates t, in that order, so
// an activation failure never strands the trigger without a future
// fire queued (spec §4.1 steps 4-5).
func (s *Scheduler) fire(ctx context.Context, t *triggerTime, overslept bool) error {
	if overslept {
		s.Logger.Warn("trigger overslept", "trigger_id", t.TriggerID, "scheduled_datetime", t.ScheduledDatetime)
	}

	trg, err := s.Store.GetTrigger(ctx, t.TriggerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("trigsched: reload trigger %s: %w", t.TriggerID, err)
	}
	paused, err := s.Store.IsJobPaused(ctx, trg.JobID)
	if err != nil {
		return fmt.Errorf("trigsched: check job paused for trigger %s: %w", t.TriggerID, err)
	}
	if paused {
		return nil
	}

	if next, err := advance(trg, t.TriggerDatetime); err != nil {
		s.Logger.Error("skipping malformed trigger schedule", "trigger_id", trg.ID, "error", err)
	} else if withinEnd(next, trg.End) {
		s.push(&triggerTime{
			TriggerID:         trg.ID,
			TriggerDatetime:   next,
			ScheduledDatetime: scheduledAt(trg, next),
		})
	}

	if err := s.activateTrigger(ctx, trg, t.TriggerDatetime, waterwheel.PriorityNormal); err != nil {
		return fmt.Errorf("trigsched: activate trigger %s: %w", trg.ID, err)
	}
	return nil
}

// drainUpdates applies every currently-pending TriggerUpdate
// non-blockingly (spec §4.1 step 1).
func (s *Scheduler) drainUpdates(ctx context.Context) {
	for {
		select {
		case id := <-s.PostOffice.TriggerUpdate:
			if err := s.handleUpdate(ctx, id); err != nil {
				s.Logger.Error("trigger update handling failed", "trigger_id", id, "error", err)
			}
		default:
			return
		}
	}
}

// handleUpdate implements spec §4.1's trigger update algorithm:
// invalidate any heaped entries for id (the epoch bump tombstones
// them), then reload and re-catchup if the trigger still exists and
// its job isn't paused.
func (s *Scheduler) handleUpdate(ctx context.Context, id uuid.UUID) error {
	s.epoch[id]++

	trg, err := s.Store.GetTrigger(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("trigsched: reload trigger %s: %w", id, err)
	}
	paused, err := s.Store.IsJobPaused(ctx, trg.JobID)
	if err != nil {
		return fmt.Errorf("trigsched: check job paused for trigger %s: %w", id, err)
	}
	if paused {
		return nil
	}
	return s.runCatchup(ctx, trg)
}

// restore loads every active trigger at startup and runs catchup for
// each (spec §4.1's "startup restore from DB" input).
func (s *Scheduler) restore(ctx context.Context) error {
	triggers, err := s.Store.ListActiveTriggers(ctx)
	if err != nil {
		return err
	}
	for _, trg := range triggers {
		if err := s.runCatchup(ctx, trg); err != nil {
			return err
		}
	}
	return nil
}

// activateTrigger increments one token per outgoing trigger_edge
// within a single transaction, updates watermarks, commits, and only
// then publishes ProcessToken::CheckThreshold for each collected token
// (spec §4.1 "Activation" — publishing after commit is what makes a
// crash between commit and publish safe to simply re-run). It posts
// CheckThreshold rather than Increment because the increment has
// already been applied, durably, in the transaction above; posting
// Increment here would apply it a second time for any task that is
// both a trigger_edge target and a task_edge fan-in child.
func (s *Scheduler) activateTrigger(ctx context.Context, trg *waterwheel.Trigger, triggerDatetime time.Time, priority waterwheel.TaskPriority) error {
	edges, err := s.Store.TriggerEdges(ctx, trg.ID)
	if err != nil {
		return fmt.Errorf("load trigger edges: %w", err)
	}

	type activated struct {
		taskID uuid.UUID
		dt     time.Time
	}
	var published []activated

	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, e := range edges {
			childDT := triggerDatetime.Add(e.EdgeOffset)
			if _, err := s.Store.Increment(ctx, tx, e.TaskID, childDT); err != nil {
				return fmt.Errorf("increment token for task %s: %w", e.TaskID, err)
			}
			published = append(published, activated{taskID: e.TaskID, dt: childDT})
		}
		return s.Store.UpdateWatermarks(ctx, tx, trg.ID, triggerDatetime)
	})
	if err != nil {
		return err
	}

	for _, a := range published {
		s.PostOffice.PostCheckThreshold(a.taskID, a.dt, priority)
	}
	return nil
}
