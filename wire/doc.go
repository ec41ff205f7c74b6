// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the wire protocol spoken with the routing
// backend: the signaling message envelope, the fixed event-name
// mapping tables, and the JSON payload shapes shared by signaling
// events and REST control-plane responses.
//
// The mapping tables are process-wide but immutable; they are the
// single source of truth for translating backend event codes into the
// public event names emitted by the worker, reservation, task, and
// transfer types.
package wire
