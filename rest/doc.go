// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// Package rest implements the control plane of the routing service:
// versioned JSON endpoints for mutating worker, reservation, task, and
// transfer state, plus the snapshot reads used to rebuild the entity
// graph after every (re)connect.
//
// Mutations that are safe to repeat (idempotent state-setting calls
// such as "set activity to X") run through an Executor that retries
// transient transport and server failures on a fixed jittered
// schedule. Commands with non-idempotent side effects (accept, reject,
// transfer, cancel) are issued exactly once and surface their failure
// directly.
package rest
