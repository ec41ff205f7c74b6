// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/wire"
)

// Transfer is a cold or warm handoff of a task to another worker or
// queue. It is a sub-machine of its task: initiated, then exactly one
// of completed, failed, or canceled. A failed attempt against one
// candidate worker (queue transfers) leaves the transfer as a whole
// initiated.
type Transfer struct {
	worker *Worker

	// Guarded by worker.mu.
	sid                      string
	taskSid                  string
	mode                     wire.TransferMode
	transferType             wire.TransferType
	to                       string
	status                   wire.TransferStatus
	initiatingReservationSid string
	initiatingWorkerSid      string
	initiatingQueueSid       string
	dateCreated              time.Time
	dateUpdated              time.Time
	events                   signal[string]
}

// Sid returns the transfer's identifier.
func (t *Transfer) Sid() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.sid
}

// TaskSid returns the transferred task's identifier.
func (t *Transfer) TaskSid() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.taskSid
}

// Mode returns COLD or WARM.
func (t *Transfer) Mode() wire.TransferMode {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.mode
}

// Type returns WORKER or QUEUE.
func (t *Transfer) Type() wire.TransferType {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.transferType
}

// To returns the target worker or queue sid.
func (t *Transfer) To() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.to
}

// Status returns the transfer's lifecycle status.
func (t *Transfer) Status() wire.TransferStatus {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.status
}

// InitiatingReservationSid returns the reservation the transfer was
// issued from.
func (t *Transfer) InitiatingReservationSid() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.initiatingReservationSid
}

// InitiatingWorkerSid returns the worker who initiated the transfer.
func (t *Transfer) InitiatingWorkerSid() string {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.initiatingWorkerSid
}

// DateUpdated returns the server timestamp of the last applied update.
func (t *Transfer) DateUpdated() time.Time {
	t.worker.mu.Lock()
	defer t.worker.mu.Unlock()
	return t.dateUpdated
}

// Events delivers the transfer's public event names: transferInitiated,
// transferCompleted, transferFailed, transferAttemptFailed,
// transferCanceled.
func (t *Transfer) Events() <-chan string { return t.events.subscribe() }

// Cancel cancels an initiated outgoing transfer. Valid exactly once:
// the request is always issued, and canceling an already-canceled
// transfer surfaces the backend's 400 naming the transfer — it is not
// flattened into a no-op success.
func (t *Transfer) Cancel(ctx context.Context) error {
	t.worker.mu.Lock()
	taskSid, sid := t.taskSid, t.sid
	t.worker.mu.Unlock()

	payload, err := t.worker.rest.CancelTransfer(ctx, taskSid, sid)
	if err != nil {
		return fmt.Errorf("worker: canceling transfer %s: %w", sid, err)
	}
	t.worker.applyTransferSeed(payload, wire.TransferCanceled)
	return nil
}
