// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// ErrAuthRejected marks a dial attempt the server refused because the
// presented token is invalid or expired. The channel does not retry
// these — it waits for a fresh token instead.
var ErrAuthRejected = errors.New("signaling: server rejected credentials")

// Conn is a single established signaling connection.
type Conn interface {
	// Read blocks until the next frame arrives and returns its bytes.
	// Returns an error once the connection is closed or broken.
	Read() ([]byte, error)

	// Write sends one frame.
	Write(data []byte) error

	// Close tears the connection down. Idempotent.
	Close() error
}

// Dialer establishes signaling connections. The channel dials through
// this interface so tests can substitute an in-process transport.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WebSocketDialer is the production Dialer.
type WebSocketDialer struct {
	// Dialer overrides the underlying websocket dialer. If nil,
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial opens a websocket to the event service. An HTTP 401 or 403
// during the upgrade handshake maps to ErrAuthRejected.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, response, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if response != nil && (response.StatusCode == 401 || response.StatusCode == 403) {
			return nil, fmt.Errorf("%w (HTTP %d)", ErrAuthRejected, response.StatusCode)
		}
		return nil, fmt.Errorf("signaling: dial failed: %w", err)
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) Read() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Control frames are handled by the websocket library; only
		// data frames carry envelopes.
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *websocketConn) Write(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) Close() error {
	// Best effort close handshake; the server tolerates an abrupt
	// close if the frame does not get through.
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
