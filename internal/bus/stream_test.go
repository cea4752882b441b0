package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

func requireBus(t *testing.T) *Bus {
	t.Helper()
	addr := os.Getenv("WATERWHEEL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WATERWHEEL_TEST_REDIS_ADDR not set, skipping bus integration test")
	}
	b := New(addr, "", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Ping(ctx))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishAndConsumeTask_RoundTrips(t *testing.T) {
	t.Parallel()
	b := requireBus(t)
	ctx := context.Background()

	group := "test-group-" + uuid.NewString()
	require.NoError(t, b.EnsureGroup(ctx, TaskStream(waterwheel.PriorityHigh), group))

	req := &waterwheel.TaskRequest{
		TaskRunID: uuid.New(),
		TaskID:    uuid.New(),
		TaskName:  "build",
		Priority:  waterwheel.PriorityHigh,
		Args:      []string{"make", "build"},
	}
	require.NoError(t, b.PublishTask(ctx, req))

	deliveries, err := b.ConsumeTasks(ctx, waterwheel.PriorityHigh, group, "consumer-1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, req.TaskRunID, deliveries[0].Request.TaskRunID)

	require.NoError(t, b.AckTask(ctx, waterwheel.PriorityHigh, group, deliveries[0].ID))
}

func TestEnsureGroup_IsIdempotent(t *testing.T) {
	t.Parallel()
	b := requireBus(t)
	ctx := context.Background()

	stream := TaskStream(waterwheel.PriorityLow)
	group := "test-group-" + uuid.NewString()
	require.NoError(t, b.EnsureGroup(ctx, stream, group))
	require.NoError(t, b.EnsureGroup(ctx, stream, group))
}

func TestConsumeResults_AckedEntryIsNotRedelivered(t *testing.T) {
	t.Parallel()
	b := requireBus(t)
	ctx := context.Background()

	require.NoError(t, b.EnsureGroup(ctx, ResultsStream, ResultsGroup))

	res := &waterwheel.TaskResultMsg{
		TaskID:          uuid.New(),
		TriggerDatetime: time.Now().UTC().Truncate(time.Second),
		Result:          waterwheel.ResultSuccess,
		WorkerID:        uuid.New(),
	}
	require.NoError(t, b.PublishResult(ctx, res))

	deliveries, err := b.ConsumeResults(ctx, "consumer-1", 10, time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(deliveries), 1)

	var found *ResultDelivery
	for i := range deliveries {
		if deliveries[i].Result.TaskID == res.TaskID {
			found = &deliveries[i]
		}
	}
	require.NotNil(t, found)
	require.NoError(t, b.AckResult(ctx, found.ID))
}
