// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/rest"
	"github.com/hivedesk/hivedesk/wire"
)

// Task is the unit of work routed through the system. A task survives
// across multiple reservations when transferred; within one worker
// session all reservations referencing the same task sid share one
// Task instance.
type Task struct {
	worker *Worker

	// Guarded by worker.mu.
	sid          string
	workspaceSid string
	status       wire.TaskStatus
	attributes   json.RawMessage
	priority     int
	age          int
	reason       string
	queueSid     string
	queueName    string
	workflowSid  string
	workflowName string
	channelSid   string
	channelName  string
	timeout      int
	dateCreated  time.Time
	dateUpdated  time.Time
	incoming     *Transfer
	outgoing     *Transfer
	events       signal[string]
}

// Transfers is the pair of live handoffs attached to a task: at most
// one incoming and one outgoing at a time.
type Transfers struct {
	Incoming *Transfer
	Outgoing *Transfer
}

// TransferOptions configures Task.Transfer.
type TransferOptions struct {
	// Mode selects a cold or warm handoff. Defaults to COLD.
	Mode wire.TransferMode

	// Attributes are merged into the task for the transferee.
	Attributes json.RawMessage
}

// Sid returns the task's identifier.
func (t *Task) Sid() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.sid
}

// Status returns the task's assignment status.
func (t *Task) Status() wire.TaskStatus {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.status
}

// Attributes returns the task's attribute document.
func (t *Task) Attributes() json.RawMessage {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return append(json.RawMessage(nil), t.attributes...)
}

// Priority returns the task's routing priority.
func (t *Task) Priority() int {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.priority
}

// Reason returns the completion or wrapup reason, if any.
func (t *Task) Reason() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.reason
}

// QueueSid returns the queue the task is routed through.
func (t *Task) QueueSid() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.queueSid
}

// WorkflowSid returns the workflow that routed the task.
func (t *Task) WorkflowSid() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.workflowSid
}

// TaskChannelUniqueName returns the task's channel type.
func (t *Task) TaskChannelUniqueName() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.channelName
}

// DateUpdated returns the server timestamp of the last applied update.
func (t *Task) DateUpdated() time.Time {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.dateUpdated
}

// Transfers returns the task's live incoming and outgoing transfers.
func (t *Task) Transfers() Transfers {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return Transfers{Incoming: t.incoming, Outgoing: t.outgoing}
}

// Events delivers the task's public event names: updated, canceled,
// completed, wrapup, and the camel-cased transfer events
// (transferInitiated, transferCompleted, transferFailed,
// transferAttemptFailed, transferCanceled).
func (t *Task) Events() <-chan string { return t.events.subscribe() }

// SetAttributes replaces the task's attribute document. The document
// is validated synchronously; the call is idempotent and retried on
// transient failures.
func (t *Task) SetAttributes(ctx context.Context, attributes json.RawMessage) error {
	if err := validateAttributes(attributes); err != nil {
		return err
	}
	t.worker.mu.Lock()
	sid := t.sid
	t.worker.mu.Unlock()

	payload, err := t.worker.rest.UpdateTaskAttributes(ctx, sid, attributes)
	if err != nil {
		return fmt.Errorf("worker: setting task %s attributes: %w", sid, err)
	}
	t.worker.applyTaskSeed(payload)
	return nil
}

// Complete moves the task to completed. State preconditions are
// enforced by the backend: completing a task that is not assigned or
// wrapping surfaces its 400, never a silent success.
func (t *Task) Complete(ctx context.Context, reason string) error {
	return t.setStatus(ctx, wire.TaskStatusCompleted, reason)
}

// Wrapup moves the task to wrapping.
func (t *Task) Wrapup(ctx context.Context, reason string) error {
	return t.setStatus(ctx, wire.TaskStatusWrapping, reason)
}

func (t *Task) setStatus(ctx context.Context, status wire.TaskStatus, reason string) error {
	t.worker.mu.Lock()
	sid := t.sid
	t.worker.mu.Unlock()

	payload, err := t.worker.rest.UpdateTaskStatus(ctx, sid, status, reason)
	if err != nil {
		return fmt.Errorf("worker: moving task %s to %s: %w", sid, status, err)
	}
	t.worker.applyTaskSeed(payload)
	return nil
}

// Transfer hands the task off to another worker or queue. Valid only
// on an assigned task; an unavailable target worker is a backend 400
// with no transfer created.
func (t *Task) Transfer(ctx context.Context, to string, options TransferOptions) (*Transfer, error) {
	if to == "" {
		return nil, fmt.Errorf("worker: transfer target is required")
	}
	if options.Attributes != nil {
		if err := validateAttributes(options.Attributes); err != nil {
			return nil, err
		}
	}
	mode := options.Mode
	if mode == "" {
		mode = wire.TransferModeCold
	}

	t.worker.mu.Lock()
	sid := t.sid
	status := t.status
	reservationSid := t.worker.reservationForTaskLocked(sid)
	t.worker.mu.Unlock()

	if status != wire.TaskStatusAssigned {
		return nil, fmt.Errorf("worker: task %s is %s, only an assigned task can be transferred", sid, status)
	}
	if reservationSid == "" {
		return nil, fmt.Errorf("worker: task %s has no live reservation to transfer from", sid)
	}

	payload, err := t.worker.rest.CreateTransfer(ctx, sid, rest.CreateTransferRequest{
		ReservationSid: reservationSid,
		To:             to,
		Mode:           mode,
		Attributes:     options.Attributes,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: transferring task %s: %w", sid, err)
	}
	return t.worker.applyTransferSeed(payload, wire.TransferInitiated), nil
}

// Hold toggles the hold state of another worker participating in this
// task's conference. Both workers must be active participants; the
// backend rejects anything else with a 400.
func (t *Task) Hold(ctx context.Context, targetWorkerSid string, onHold bool) error {
	if targetWorkerSid == "" {
		return fmt.Errorf("worker: target worker sid is required")
	}
	t.worker.mu.Lock()
	sid := t.sid
	t.worker.mu.Unlock()

	if err := t.worker.rest.HoldParticipant(ctx, sid, rest.HoldRequest{
		TargetWorkerSid: targetWorkerSid,
		Hold:            onHold,
	}); err != nil {
		return fmt.Errorf("worker: holding participant on task %s: %w", sid, err)
	}
	return nil
}
