// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import "time"

// Channel tracks per task-type capacity on the worker (for example
// "voice" or "chat"). Channels are read-only on the client; capacity
// and availability change only through backend events. Availability is
// never inferred from the assignment count client-side, because
// capacity itself can change concurrently.
type Channel struct {
	worker *Worker

	// Guarded by worker.mu.
	sid             string
	uniqueName      string
	capacity        int
	assignedTasks   int
	available       bool
	dateUpdated     time.Time
	capacitySig     signal[*Channel]
	availabilitySig signal[*Channel]
}

// Sid returns the channel's identifier.
func (c *Channel) Sid() string {
	c.worker.mu.Lock()
	defer c.worker.mu.Unlock()
	return c.sid
}

// TaskChannelUniqueName returns the task type this channel tracks.
func (c *Channel) TaskChannelUniqueName() string {
	c.worker.mu.Lock()
	defer c.worker.mu.Unlock()
	return c.uniqueName
}

// Capacity returns the maximum concurrent tasks of this type.
func (c *Channel) Capacity() int {
	c.worker.mu.Lock()
	defer c.worker.mu.Unlock()
	return c.capacity
}

// AssignedTasks returns the current assignment count.
func (c *Channel) AssignedTasks() int {
	c.worker.mu.Lock()
	defer c.worker.mu.Unlock()
	return c.assignedTasks
}

// Available reports whether the channel can take another task.
func (c *Channel) Available() bool {
	c.worker.mu.Lock()
	defer c.worker.mu.Unlock()
	return c.available
}

// DateUpdated returns the server timestamp of the last applied update.
func (c *Channel) DateUpdated() time.Time {
	c.worker.mu.Lock()
	defer c.worker.mu.Unlock()
	return c.dateUpdated
}

// CapacityUpdates delivers this channel after each capacity change.
func (c *Channel) CapacityUpdates() <-chan *Channel { return c.capacitySig.subscribe() }

// AvailabilityUpdates delivers this channel after each availability
// change.
func (c *Channel) AvailabilityUpdates() <-chan *Channel { return c.availabilitySig.subscribe() }
