// Package ingester implements the Progress Ingester: the sole
// consumer of the results stream, applying the CAS-before-propagate
// redesign mandated by spec §9. A worker's reported result is
// delivered at-least-once; this package makes the resulting state
// transition and child-token propagation exactly-once regardless of
// how many times the same result entry is redelivered.
package ingester

import (
	"context"
	"fmt"
	"time"

	"github.com/waterwheel/waterwheel/internal/bus"
	"github.com/waterwheel/waterwheel/internal/logger"
	"github.com/waterwheel/waterwheel/internal/postoffice"
	"github.com/waterwheel/waterwheel/internal/store"
	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// Ingester drains the results stream's consumer group and propagates
// each committed result to the post office.
type Ingester struct {
	Store      *store.Store
	Bus        *bus.Bus
	PostOffice *postoffice.PostOffice
	Logger     logger.Logger
	ConsumerID string
	BatchSize  int64
	BlockFor   time.Duration
}

// New constructs an Ingester. consumerID should be unique per process
// (e.g. hostname+pid) so the consumer group can track per-reader
// pending entries correctly.
func New(st *store.Store, b *bus.Bus, po *postoffice.PostOffice, lg logger.Logger, consumerID string) *Ingester {
	return &Ingester{
		Store:      st,
		Bus:        b,
		PostOffice: po,
		Logger:     lg,
		ConsumerID: consumerID,
		BatchSize:  64,
		BlockFor:   5 * time.Second,
	}
}

// Run ensures the consumer group exists and then loops, consuming and
// processing batches of results, until ctx is canceled. It is the
// loop function handed to a supervisor.Supervisor.
func (in *Ingester) Run(ctx context.Context) error {
	if err := in.Bus.EnsureGroup(ctx, bus.ResultsStream, bus.ResultsGroup); err != nil {
		return fmt.Errorf("ingester: ensure group: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		deliveries, err := in.Bus.ConsumeResults(ctx, in.ConsumerID, in.BatchSize, in.BlockFor)
		if err != nil {
			return fmt.Errorf("ingester: consume: %w", err)
		}
		for _, d := range deliveries {
			if err := in.processOne(ctx, d); err != nil {
				return err
			}
		}
	}
}

// processOne applies a single result's CAS-before-propagate sequence:
// it commits the parent's state transition, then (if it won the CAS)
// posts an Increment for each matching child to the post office, and
// only then acks the entry, so a crash before the ack merely
// redelivers into a CAS that's already been won and becomes a no-op.
// The child increments themselves are not part of this transaction;
// the token processor applies them when it drains the posted messages.
func (in *Ingester) processOne(ctx context.Context, d bus.ResultDelivery) error {
	res := d.Result

	var won bool
	var children []waterwheel.TaskEdge
	err := in.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		won, err = in.Store.TryTerminate(ctx, tx, res.TaskID, res.TriggerDatetime, res.Result)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		children, err = in.Store.ChildEdges(ctx, res.TaskID, res.Result.EdgeKindFor())
		return err
	})
	if err != nil {
		return fmt.Errorf("ingester: terminate %s: %w", res.TaskID, err)
	}

	if won {
		for _, edge := range children {
			in.PostOffice.PostIncrement(edge.ChildTaskID, res.TriggerDatetime, waterwheel.PriorityNormal)
		}
		in.Logger.Info("propagated result",
			"task_id", res.TaskID, "trigger_datetime", res.TriggerDatetime,
			"result", res.Result, "children", len(children))
	} else {
		in.Logger.Debug("duplicate result delivery ignored",
			"task_id", res.TaskID, "trigger_datetime", res.TriggerDatetime)
	}

	if err := in.Bus.AckResult(ctx, d.ID); err != nil {
		return fmt.Errorf("ingester: ack %s: %w", d.ID, err)
	}
	return nil
}
