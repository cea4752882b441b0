// Package tokenproc implements the Token Processor: the single
// consumer of the post office's ProcessToken mailbox, applying
// Increment/CheckThreshold/Activate/Clear semantics via the store and
// handing newly-eligible tokens to the dispatcher (spec §4.2).
package tokenproc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/dispatch"
	"github.com/waterwheel/waterwheel/internal/logger"
	"github.com/waterwheel/waterwheel/internal/metrics"
	"github.com/waterwheel/waterwheel/internal/postoffice"
	"github.com/waterwheel/waterwheel/internal/store"
	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// Processor drains a ProcessTokenMailbox and applies the matching
// store operation under a single transaction, dispatching on
// activation.
type Processor struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Registry
	Logger     logger.Logger
	Mailbox    postoffice.ProcessTokenMailbox
}

// New constructs a Processor.
func New(st *store.Store, d *dispatch.Dispatcher, m *metrics.Registry, lg logger.Logger, mailbox postoffice.ProcessTokenMailbox) *Processor {
	return &Processor{Store: st, Dispatcher: d, Metrics: m, Logger: lg, Mailbox: mailbox}
}

// Run drains the mailbox until ctx is canceled. It is the loop
// function handed to a supervisor.Supervisor by the server command,
// so a single malformed message's error surfaces as a component
// failure rather than silently stalling the mailbox.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.Mailbox:
			if err := p.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg waterwheel.ProcessToken) error {
	switch msg.Kind {
	case waterwheel.ProcessIncrement:
		return p.runIncrement(ctx, msg.TaskID, msg.TriggerDatetime, msg.Priority)
	case waterwheel.ProcessCheckThreshold:
		return p.runCheckThreshold(ctx, msg.TaskID, msg.TriggerDatetime, msg.Priority)
	case waterwheel.ProcessActivate:
		return p.runActivate(ctx, msg.TaskID, msg.TriggerDatetime, msg.Priority)
	case waterwheel.ProcessClear:
		return p.handleClear(ctx, msg)
	default:
		return fmt.Errorf("tokenproc: unknown ProcessToken kind %d", msg.Kind)
	}
}

func (p *Processor) handleClear(ctx context.Context, msg waterwheel.ProcessToken) error {
	err := p.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return p.Store.Clear(ctx, tx, msg.TaskID, msg.TriggerDatetime)
	})
	if err != nil {
		return fmt.Errorf("tokenproc: clear %s: %w", msg.TaskID, err)
	}
	return nil
}

// runIncrement applies ProcessToken::Increment: it increments the
// token's count and, once count>=threshold, attempts the activation
// CAS, all within one transaction. This is for the case where nothing
// else has touched this token's count yet for the activation at hand
// (the progress ingester's child propagation, spec §4.3).
func (p *Processor) runIncrement(ctx context.Context, taskID uuid.UUID, triggerDatetime time.Time, priority waterwheel.TaskPriority) error {
	var won bool
	err := p.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tok, err := p.Store.Increment(ctx, tx, taskID, triggerDatetime)
		if err != nil {
			return err
		}
		if tok.Count < tok.Threshold {
			return nil
		}
		won, err = p.Store.TryActivate(ctx, tx, taskID, triggerDatetime)
		return err
	})
	return p.afterActivationAttempt(ctx, taskID, triggerDatetime, priority, won, err)
}

// runCheckThreshold applies ProcessToken::CheckThreshold. The trigger
// scheduler's activateTrigger has already incremented this token
// durably inside its own activation transaction before publishing this
// message, so this only re-reads the committed count and attempts the
// activation CAS — it must never call Store.Increment, or a task that
// is both a task_edge fan-in child and a direct trigger_edge target
// would be counted twice and could push count past threshold, tripping
// the token table's CHECK constraint.
func (p *Processor) runCheckThreshold(ctx context.Context, taskID uuid.UUID, triggerDatetime time.Time, priority waterwheel.TaskPriority) error {
	tok, err := p.Store.GetToken(ctx, taskID, triggerDatetime)
	if err != nil {
		return fmt.Errorf("tokenproc: check threshold %s: %w", taskID, err)
	}
	if tok.Count < tok.Threshold {
		return nil
	}

	var won bool
	txErr := p.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		won, err = p.Store.TryActivate(ctx, tx, taskID, triggerDatetime)
		return err
	})
	return p.afterActivationAttempt(ctx, taskID, triggerDatetime, priority, won, txErr)
}

// runActivate applies ProcessToken::Activate: an explicit operator
// override (e.g. a manual re-run) that always attempts the CAS
// regardless of count, lazily creating the token row first if nothing
// has touched it yet.
func (p *Processor) runActivate(ctx context.Context, taskID uuid.UUID, triggerDatetime time.Time, priority waterwheel.TaskPriority) error {
	var won bool
	err := p.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := p.Store.EnsureCreated(ctx, tx, taskID, triggerDatetime); err != nil {
			return err
		}
		var err error
		won, err = p.Store.TryActivate(ctx, tx, taskID, triggerDatetime)
		return err
	})
	return p.afterActivationAttempt(ctx, taskID, triggerDatetime, priority, won, err)
}

// afterActivationAttempt dispatches outside the transaction once it
// has committed (spec §5: never hold a DB transaction across a channel
// send or bus call).
func (p *Processor) afterActivationAttempt(ctx context.Context, taskID uuid.UUID, triggerDatetime time.Time, priority waterwheel.TaskPriority, won bool, err error) error {
	if err != nil {
		return fmt.Errorf("tokenproc: process token %s: %w", taskID, err)
	}

	p.Metrics.TokensProcessed.Inc()

	if won {
		if err := p.Dispatcher.Dispatch(ctx, taskID, triggerDatetime, priority); err != nil {
			// Dispatch failure is a component failure, not a token
			// state bug: the token has already been durably activated,
			// so a restart-and-retry (via the supervisor) is the right
			// response rather than silently dropping the dispatch.
			return fmt.Errorf("tokenproc: dispatch %s: %w", taskID, err)
		}
	}
	return nil
}
