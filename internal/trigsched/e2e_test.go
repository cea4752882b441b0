package trigsched

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// seedEdgeTask inserts a task belonging to trg's job and wires a
// trigger_edge from trg to it, so activateTrigger has something to
// increment.
func seedEdgeTask(t *testing.T, s *Scheduler, trg *waterwheel.Trigger) uuid.UUID {
	t.Helper()
	ctx := contextBG()
	taskID := uuid.New()
	require.NoError(t, s.Store.CreateTask(ctx, &waterwheel.Task{ID: taskID, JobID: trg.JobID, Name: "task-" + taskID.String()}))
	require.NoError(t, s.Store.CreateTriggerEdge(ctx, &waterwheel.TriggerEdge{TriggerID: trg.ID, TaskID: taskID}))
	return taskID
}

// seedFanInEdgeTask wires a task that is simultaneously a task_edge
// fan-in child of parentID (threshold=1) and a direct trigger_edge
// target of trg, the exact topology that makes activateTrigger's
// inline Store.Increment and its post-commit published message apply
// to the very same token.
func seedFanInEdgeTask(t *testing.T, s *Scheduler, trg *waterwheel.Trigger, parentID uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := contextBG()
	taskID := uuid.New()
	require.NoError(t, s.Store.CreateTask(ctx, &waterwheel.Task{ID: taskID, JobID: trg.JobID, Name: "task-" + taskID.String()}))
	require.NoError(t, s.Store.CreateTaskEdge(ctx, &waterwheel.TaskEdge{ParentTaskID: parentID, ChildTaskID: taskID, Kind: waterwheel.EdgeSuccess}))
	require.NoError(t, s.Store.CreateTriggerEdge(ctx, &waterwheel.TriggerEdge{TriggerID: trg.ID, TaskID: taskID}))
	return taskID
}

// TestActivateTrigger_TaskWithBothTaskEdgeAndTriggerEdge_IncrementsOnce
// guards the fix for the double-increment defect: a task that has both
// a task_edge parent (threshold=1 via fan-in) and a direct trigger_edge
// from the firing trigger must still see its token incremented exactly
// once by activateTrigger, not twice (once inline, once more when
// tokenproc applied the published message as a second Increment).
func TestActivateTrigger_TaskWithBothTaskEdgeAndTriggerEdge_IncrementsOnce(t *testing.T) {
	st := requireStore(t)
	a := requireAux(t)
	s := New(st, a.po, a.metrics, a.logger)

	period := time.Minute
	trg := seedTestTrigger(t, st, &waterwheel.Trigger{
		Start: mustTime(t, "2024-01-01T00:00:00Z"), Period: &period, Catchup: waterwheel.CatchupNone,
	})

	parentID := uuid.New()
	require.NoError(t, st.CreateTask(contextBG(), &waterwheel.Task{ID: parentID, JobID: trg.JobID, Name: "parent-" + parentID.String()}))
	taskID := seedFanInEdgeTask(t, s, trg, parentID)

	require.NoError(t, s.activateTrigger(contextBG(), trg, trg.Start, waterwheel.PriorityNormal))

	select {
	case msg := <-a.po.ProcessToken:
		require.Equal(t, waterwheel.ProcessCheckThreshold, msg.Kind, "activateTrigger must publish CheckThreshold, not Increment, since it already incremented inline")
		require.Equal(t, taskID, msg.TaskID)
	case <-time.After(time.Second):
		t.Fatal("expected a ProcessToken message for the fan-in/trigger-edge task")
	}

	tok, err := st.GetToken(contextBG(), taskID, trg.Start)
	require.NoError(t, err)
	require.Equal(t, 1, tok.Threshold)
	require.Equal(t, 1, tok.Count, "activateTrigger must increment a task with both a task_edge parent and a direct trigger_edge exactly once")
}

// Scenario 1 (spec §8): a trigger with no outgoing edges fires once
// and emits no token messages, but still advances its watermarks.
func TestScenario_SingleTriggerNoDeps(t *testing.T) {
	st := requireStore(t)
	a := requireAux(t)
	s := New(st, a.po, a.metrics, a.logger)

	period := time.Minute
	start := mustTime(t, "2024-01-01T00:00:00Z")
	trg := seedTestTrigger(t, st, &waterwheel.Trigger{
		Start: start, Period: &period, Catchup: waterwheel.CatchupNone,
	})

	require.NoError(t, s.activateTrigger(contextBG(), trg, trg.Start, waterwheel.PriorityBackFill))

	select {
	case msg := <-a.po.ProcessToken:
		t.Fatalf("expected no ProcessToken message for an edge-less trigger, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	reloaded, err := st.GetTrigger(contextBG(), trg.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Latest)
	require.True(t, start.Equal(*reloaded.Latest))
}

// Scenario 4 (spec §8): catchup with start=00:00, period=1h, now=05:30,
// catchup=Earliest publishes 6 activations in ascending trigger_datetime
// order at priority BackFill, then queues one future fire at 06:00.
func TestScenario_CatchupEarliest_SixActivationsInAscendingOrder(t *testing.T) {
	st := requireStore(t)
	a := requireAux(t)
	s := New(st, a.po, a.metrics, a.logger)

	now := mustTime(t, "2024-01-01T05:30:00Z")
	s.Clock = func() time.Time { return now }

	period := time.Hour
	trg := seedTestTrigger(t, st, &waterwheel.Trigger{
		Start: mustTime(t, "2024-01-01T00:00:00Z"), Period: &period, Catchup: waterwheel.CatchupEarliest,
	})
	taskID := seedEdgeTask(t, s, trg)

	require.NoError(t, s.runCatchup(contextBG(), trg))

	want := []time.Time{
		mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-01T01:00:00Z"),
		mustTime(t, "2024-01-01T02:00:00Z"), mustTime(t, "2024-01-01T03:00:00Z"),
		mustTime(t, "2024-01-01T04:00:00Z"), mustTime(t, "2024-01-01T05:00:00Z"),
	}
	for i, wantDT := range want {
		select {
		case msg := <-a.po.ProcessToken:
			require.Equal(t, waterwheel.ProcessCheckThreshold, msg.Kind)
			require.Equal(t, taskID, msg.TaskID)
			require.Equal(t, waterwheel.PriorityBackFill, msg.Priority)
			require.True(t, wantDT.Equal(msg.TriggerDatetime), "activation %d: want %s got %s", i, wantDT, msg.TriggerDatetime)
		case <-time.After(time.Second):
			t.Fatalf("activation %d never arrived", i)
		}
	}

	require.Equal(t, 1, s.h.Len(), "exactly one future fire should be queued")
	require.Equal(t, mustTime(t, "2024-01-01T06:00:00Z"), s.h[0].TriggerDatetime)
}

// Scenario 5 (spec §8): while the scheduler sleeps on a queued fire,
// an operator pause bumps the trigger's epoch; the stale heap entry
// must never fire.
func TestScenario_PauseDuringSleep_StaleEntryNeverFires(t *testing.T) {
	st := requireStore(t)
	a := requireAux(t)
	s := New(st, a.po, a.metrics, a.logger)

	period := time.Minute
	trg := seedTestTrigger(t, st, &waterwheel.Trigger{
		Start: mustTime(t, "2024-01-01T00:00:00Z"), Period: &period, Catchup: waterwheel.CatchupNone,
	})

	future := &triggerTime{
		TriggerID:         trg.ID,
		TriggerDatetime:   mustTime(t, "2024-01-01T00:01:00Z"),
		ScheduledDatetime: mustTime(t, "2024-01-01T00:01:00Z"),
	}
	s.push(future)
	require.False(t, s.isStale(future))

	// operator pauses the job: handleUpdate bumps the epoch even
	// though the job is now paused, and runCatchup is never reached.
	require.NoError(t, st.SetJobPaused(contextBG(), trg.JobID, true))
	require.NoError(t, s.handleUpdate(contextBG(), trg.ID))

	require.True(t, s.isStale(future), "the pre-pause heap entry must be tombstoned by the epoch bump")
}

// Scenario 6 (spec §8): an overslept restart with catchup=Latest and
// latest=t-10*period publishes 10 activations in descending
// trigger_datetime order, then queues one future fire.
func TestScenario_Overslept_CatchupLatestDescendingOrder(t *testing.T) {
	st := requireStore(t)
	a := requireAux(t)
	s := New(st, a.po, a.metrics, a.logger)

	now := mustTime(t, "2024-01-01T10:05:00Z")
	s.Clock = func() time.Time { return now }

	period := time.Hour
	latest := mustTime(t, "2024-01-01T00:00:00Z")
	trg := seedTestTrigger(t, st, &waterwheel.Trigger{
		Start: latest, Period: &period, Catchup: waterwheel.CatchupLatest, Latest: &latest,
	})
	taskID := seedEdgeTask(t, s, trg)

	require.NoError(t, s.runCatchup(contextBG(), trg))

	var got []time.Time
	for i := 0; i < 10; i++ {
		select {
		case msg := <-a.po.ProcessToken:
			require.Equal(t, taskID, msg.TaskID)
			require.Equal(t, waterwheel.PriorityBackFill, msg.Priority)
			got = append(got, msg.TriggerDatetime)
		case <-time.After(time.Second):
			t.Fatalf("activation %d never arrived", i)
		}
	}
	for i := 1; i < len(got); i++ {
		require.True(t, got[i].Before(got[i-1]), "activations must arrive in descending trigger_datetime order")
	}

	require.Equal(t, 1, s.h.Len(), "exactly one future fire should be queued")
	require.Equal(t, mustTime(t, "2024-01-01T11:00:00Z"), s.h[0].TriggerDatetime)
}
