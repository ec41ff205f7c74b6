// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/rest"
)

// Activity is a named presence state of the worker (Available, Busy,
// Offline, ...). Exactly one activity is current at any time after the
// initial snapshot.
type Activity struct {
	worker *Worker

	// Guarded by worker.mu.
	sid         string
	name        string
	available   bool
	isCurrent   bool
	dateUpdated time.Time
}

// Sid returns the activity's identifier.
func (a *Activity) Sid() string {
	a.worker.mu.Lock()
	defer a.worker.mu.Unlock()
	return a.sid
}

// Name returns the activity's friendly name.
func (a *Activity) Name() string {
	a.worker.mu.Lock()
	defer a.worker.mu.Unlock()
	return a.name
}

// Available reports whether a worker in this activity can receive new
// reservations.
func (a *Activity) Available() bool {
	a.worker.mu.Lock()
	defer a.worker.mu.Unlock()
	return a.available
}

// IsCurrent reports whether this is the worker's current activity.
func (a *Activity) IsCurrent() bool {
	a.worker.mu.Lock()
	defer a.worker.mu.Unlock()
	return a.isCurrent
}

// DateUpdated returns the server timestamp of the last applied update.
func (a *Activity) DateUpdated() time.Time {
	a.worker.mu.Lock()
	defer a.worker.mu.Unlock()
	return a.dateUpdated
}

// SetAsCurrent makes this the worker's current activity. With
// rejectPending set, every pending reservation is rejected as a side
// effect of the change.
//
// The response seeds the store optimistically; the authoritative
// activity-update event reconciles it when it arrives.
func (a *Activity) SetAsCurrent(ctx context.Context, rejectPending bool) error {
	a.worker.mu.Lock()
	sid := a.sid
	a.worker.mu.Unlock()

	payload, err := a.worker.rest.UpdateWorker(ctx, rest.WorkerUpdate{
		ActivitySid:               sid,
		RejectPendingReservations: rejectPending,
	})
	if err != nil {
		return fmt.Errorf("worker: setting activity %s: %w", sid, err)
	}
	a.worker.applyWorkerSeed(payload)
	return nil
}
