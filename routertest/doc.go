// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// Package routertest provides an in-process fake routing backend: an
// httptest control plane plus a scripted signaling feed over the
// in-memory dialer. Tests drive it to offer tasks, flip transfers, and
// expire tokens; the mock-router binary runs it standalone.
//
// The fake enforces the same state preconditions the production
// backend does (accept only from pending, cancel a transfer exactly
// once, hold only between conference participants) so client tests
// exercise real 400 paths.
package routertest
