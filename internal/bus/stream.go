// Package bus is the durable message substrate: per-priority task
// streams plus a shared results stream, backed by Redis Streams
// consumer groups. Every queue the pack's teacher pulls in a broker
// client for is modeled as one stream with manual XACK, giving the
// at-least-once delivery semantics (spec §6) the progress ingester's
// CAS-before-propagate logic is built to tolerate.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

const (
	// ResultsStream is the single stream every worker reports
	// completions to; the progress ingester is its sole consumer
	// group.
	ResultsStream = "waterwheel.results"

	// ResultsGroup is the results stream's consumer group name.
	ResultsGroup = "waterwheel-ingester"

	fieldPayload = "payload"
)

// TaskStream returns the stream name a given priority's TaskRequests
// are published to and consumed from (spec §6: "four priority-ordered
// queues").
func TaskStream(p waterwheel.TaskPriority) string {
	return "waterwheel.tasks." + string(p)
}

// Bus wraps a redis.Client with the publish/consume operations the
// dispatcher, worker pool, and progress ingester need.
type Bus struct {
	rdb *redis.Client
}

// New connects to a Redis instance at addr.
func New(addr, password string, db int) *Bus {
	return &Bus{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromURL connects using a redis:// or rediss:// URL, the form the
// server command's configuration carries (spec §6, RedisURL).
func NewFromURL(rawURL string) (*Bus, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bus: parse redis url: %w", err)
	}
	return &Bus{rdb: redis.NewClient(opts)}, nil
}

// Close releases the underlying connection.
func (b *Bus) Close() error { return b.rdb.Close() }

// Ping verifies connectivity. The server command does not call it;
// the bus integration tests use it to check their Redis instance.
func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// EnsureGroup creates stream's consumer group if it doesn't already
// exist, starting from the beginning of the stream ("0") so a
// freshly-deployed ingester doesn't miss anything already queued.
// MKSTREAM lets this run before any producer has written to the
// stream.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if isBusyGroupErr(err) {
			return nil
		}
		return fmt.Errorf("bus: ensure group %s/%s: %w", stream, group, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists")
}

// PublishTask pushes req onto its priority's stream.
func (b *Bus) PublishTask(ctx context.Context, req *waterwheel.TaskRequest) error {
	payload, err := marshalJSON(req)
	if err != nil {
		return err
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: TaskStream(req.Priority),
		Values: map[string]any{fieldPayload: payload},
	}).Err()
}

// PublishResult pushes a worker's result onto ResultsStream.
func (b *Bus) PublishResult(ctx context.Context, res *waterwheel.TaskResultMsg) error {
	payload, err := marshalJSON(res)
	if err != nil {
		return err
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: ResultsStream,
		Values: map[string]any{fieldPayload: payload},
	}).Err()
}

// TaskDelivery pairs a decoded TaskRequest with the stream entry ID
// the consumer must XACK once it's been durably enqueued to a worker.
type TaskDelivery struct {
	ID      string
	Request waterwheel.TaskRequest
}

// ResultDelivery pairs a decoded TaskResultMsg with its stream entry
// ID for acking after the ingester's transaction commits.
type ResultDelivery struct {
	ID     string
	Result waterwheel.TaskResultMsg
}

// ConsumeTasks reads up to count pending TaskRequests for priority
// using consumer as the reader identity within group, blocking up to
// block for new entries if none are immediately available.
func (b *Bus) ConsumeTasks(ctx context.Context, priority waterwheel.TaskPriority, group, consumer string, count int64, block time.Duration) ([]TaskDelivery, error) {
	stream := TaskStream(priority)
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: consume %s: %w", stream, err)
	}

	var out []TaskDelivery
	for _, s := range res {
		for _, msg := range s.Messages {
			var req waterwheel.TaskRequest
			if err := unmarshalEntry(msg, &req); err != nil {
				// Poison message: ack it so it doesn't block the
				// group forever, and drop it rather than crash-loop
				// the whole consumer.
				_ = b.AckTask(ctx, priority, group, msg.ID)
				continue
			}
			out = append(out, TaskDelivery{ID: msg.ID, Request: req})
		}
	}
	return out, nil
}

// AckTask acknowledges a delivered TaskRequest entry.
func (b *Bus) AckTask(ctx context.Context, priority waterwheel.TaskPriority, group, id string) error {
	return b.rdb.XAck(ctx, TaskStream(priority), group, id).Err()
}

// ConsumeResults reads up to count pending TaskResultMsg entries from
// ResultsStream for the ingester's consumer group.
func (b *Bus) ConsumeResults(ctx context.Context, consumer string, count int64, block time.Duration) ([]ResultDelivery, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ResultsGroup,
		Consumer: consumer,
		Streams:  []string{ResultsStream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: consume results: %w", err)
	}

	var out []ResultDelivery
	for _, s := range res {
		for _, msg := range s.Messages {
			var r waterwheel.TaskResultMsg
			if err := unmarshalEntry(msg, &r); err != nil {
				_ = b.AckResult(ctx, msg.ID)
				continue
			}
			out = append(out, ResultDelivery{ID: msg.ID, Result: r})
		}
	}
	return out, nil
}

// AckResult acknowledges a delivered TaskResultMsg entry. Callers must
// only call this after the ingester's CAS-before-propagate transaction
// has committed (spec §4.3), never before — an unacked entry is safe
// to redeliver, a falsely-acked one is lost forever.
func (b *Bus) AckResult(ctx context.Context, id string) error {
	return b.rdb.XAck(ctx, ResultsStream, ResultsGroup, id).Err()
}
