// Package postoffice implements the server's in-process typed channel
// registry: the only cross-component shared state described in spec
// §5. Each topic is multi-producer, single-consumer — exactly one
// reader drains it (the owning component's event loop), any number of
// writers post to it.
package postoffice

import (
	"time"

	"github.com/google/uuid"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// ProcessTokenMailbox is the channel the trigger scheduler and
// progress ingester post ProcessToken messages to, and the token
// processor drains.
//
// It is a buffered channel, not an unbounded queue: once
// NewProcessTokenMailbox's 4096 slots are full, a post blocks until
// the token processor receives a message. Posters send only after
// their DB transaction has committed (§5), so a blocked post never
// holds a transaction open.
type ProcessTokenMailbox chan waterwheel.ProcessToken

// NewProcessTokenMailbox creates a ProcessToken mailbox buffered to
// 4096 messages.
func NewProcessTokenMailbox() ProcessTokenMailbox {
	return make(ProcessTokenMailbox, 4096)
}

// TriggerUpdateMailbox carries TriggerUpdate(trigger_id) notifications
// from the external HTTP glue into the trigger scheduler.
type TriggerUpdateMailbox chan uuid.UUID

// NewTriggerUpdateMailbox creates a TriggerUpdate mailbox.
func NewTriggerUpdateMailbox() TriggerUpdateMailbox {
	return make(TriggerUpdateMailbox, 256)
}

// PostOffice bundles every topic the core components exchange
// messages over. One PostOffice is constructed per server process and
// threaded into each component's constructor.
type PostOffice struct {
	ProcessToken  ProcessTokenMailbox
	TriggerUpdate TriggerUpdateMailbox
}

// New constructs a PostOffice with freshly allocated mailboxes.
func New() *PostOffice {
	return &PostOffice{
		ProcessToken:  NewProcessTokenMailbox(),
		TriggerUpdate: NewTriggerUpdateMailbox(),
	}
}

// PostIncrement posts a ProcessToken::Increment message.
func (p *PostOffice) PostIncrement(taskID uuid.UUID, triggerDatetime time.Time, priority waterwheel.TaskPriority) {
	p.ProcessToken <- waterwheel.ProcessToken{
		Kind:            waterwheel.ProcessIncrement,
		TaskID:          taskID,
		TriggerDatetime: triggerDatetime,
		Priority:        priority,
	}
}

// PostCheckThreshold posts a ProcessToken::CheckThreshold message: the
// caller has already durably incremented this token itself (e.g. the
// trigger scheduler's own activation transaction) and only needs the
// processor to re-check the threshold and attempt activation.
func (p *PostOffice) PostCheckThreshold(taskID uuid.UUID, triggerDatetime time.Time, priority waterwheel.TaskPriority) {
	p.ProcessToken <- waterwheel.ProcessToken{
		Kind:            waterwheel.ProcessCheckThreshold,
		TaskID:          taskID,
		TriggerDatetime: triggerDatetime,
		Priority:        priority,
	}
}

// PostActivate posts a ProcessToken::Activate message.
func (p *PostOffice) PostActivate(taskID uuid.UUID, triggerDatetime time.Time, priority waterwheel.TaskPriority) {
	p.ProcessToken <- waterwheel.ProcessToken{
		Kind:            waterwheel.ProcessActivate,
		TaskID:          taskID,
		TriggerDatetime: triggerDatetime,
		Priority:        priority,
	}
}

// PostClear posts a ProcessToken::Clear message.
func (p *PostOffice) PostClear(taskID uuid.UUID, triggerDatetime time.Time) {
	p.ProcessToken <- waterwheel.ProcessToken{
		Kind:            waterwheel.ProcessClear,
		TaskID:          taskID,
		TriggerDatetime: triggerDatetime,
	}
}

// NotifyTriggerUpdate posts a TriggerUpdate(trigger_id) notification,
// e.g. from the HTTP admin layer after a trigger is created, edited,
// or its job paused/unpaused.
func (p *PostOffice) NotifyTriggerUpdate(triggerID uuid.UUID) {
	p.TriggerUpdate <- triggerID
}
