// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the public face of the SDK: a Worker session that
// keeps a live, consistent view of a contact-center agent's routing
// state (activity, per-channel capacity, reservations, tasks, and
// transfers) and exposes the commands that mutate it.
//
// The entity graph is driven from two sides. Authoritative state
// arrives as events over the signaling channel and is applied by a
// single dispatch goroutine; command responses from the REST control
// plane seed entities optimistically, and a later authoritative event
// with a newer timestamp always wins over a seed, never the reverse.
// Per-entity updates apply in non-decreasing dateUpdated order; stale
// or duplicated deliveries are discarded silently.
//
// Events are consumed through typed subscription channels rather than
// inherited emitter behavior: Worker, Reservation, Task, Transfer, and
// Channel each expose the named event streams relevant to them.
package worker
