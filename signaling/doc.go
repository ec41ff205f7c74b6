// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling maintains the one logical connection to the
// routing event service. The Channel owns the connection's lifecycle:
// connect, reconnect with jittered backoff, token refresh, token
// expiration, and graceful or forced close. Inbound frames are parsed
// into wire envelopes and handed to the consumer; connection state
// changes are reported as lifecycle events.
//
// The transport itself is abstracted behind the Conn and Dialer
// interfaces. Production code dials a websocket; tests use an
// in-process MemoryDialer with scripted frames.
package signaling
