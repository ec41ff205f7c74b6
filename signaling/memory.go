// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"io"
	"sync"

	"github.com/hivedesk/hivedesk/wire"
)

// Compile-time interface checks.
var (
	_ Dialer = (*MemoryDialer)(nil)
	_ Conn   = (*MemoryConn)(nil)
)

// MemoryDialer is an in-process Dialer for tests and the mock backend.
// Each successful Dial produces a MemoryConn whose server side the
// test drives directly: push frames, inspect client writes, sever the
// link to simulate a network failure.
type MemoryDialer struct {
	mu       sync.Mutex
	dialURLs []string
	failures []error
	conns    []*MemoryConn
	accepted chan *MemoryConn
}

// NewMemoryDialer creates a MemoryDialer.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{accepted: make(chan *MemoryConn, 16)}
}

// FailNext queues errors to be returned by upcoming Dial calls, in
// order, before dials succeed again. Use ErrAuthRejected to simulate
// a credential rejection.
func (d *MemoryDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// Dial records the connection URL and returns the next scripted
// failure, or a fresh MemoryConn.
func (d *MemoryDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	d.dialURLs = append(d.dialURLs, rawURL)
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}
	conn := &MemoryConn{inbound: make(chan []byte, 64), done: make(chan struct{})}
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	select {
	case d.accepted <- conn:
	default:
	}
	return conn, nil
}

// Accepted delivers each successfully dialed MemoryConn, in order.
func (d *MemoryDialer) Accepted() <-chan *MemoryConn { return d.accepted }

// DialURLs returns the connection URLs of every dial attempt,
// including failed ones.
func (d *MemoryDialer) DialURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialURLs...)
}

// DialCount returns the total number of dial attempts.
func (d *MemoryDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialURLs)
}

// MemoryConn is the in-process Conn produced by MemoryDialer.
type MemoryConn struct {
	inbound chan []byte

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	done   chan struct{}
}

// Read blocks until the test pushes a frame or severs the connection.
func (c *MemoryConn) Read() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		return nil, io.ErrClosedPipe
	}
}

// Write records a frame sent by the client.
func (c *MemoryConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

// Close severs the connection from the client side.
func (c *MemoryConn) Close() error {
	c.sever()
	return nil
}

// Sever simulates a network failure: pending and future Reads fail.
func (c *MemoryConn) Sever() { c.sever() }

func (c *MemoryConn) sever() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Push delivers a raw frame to the client.
func (c *MemoryConn) Push(data []byte) {
	select {
	case c.inbound <- data:
	case <-c.done:
	}
}

// PushEnvelope delivers a wire envelope to the client. Panics on an
// unencodable envelope — that is a test bug, not a runtime condition.
func (c *MemoryConn) PushEnvelope(envelope wire.Envelope) {
	data, err := envelope.Encode()
	if err != nil {
		panic(err)
	}
	c.Push(data)
}

// Sent returns every frame the client has written.
func (c *MemoryConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}
