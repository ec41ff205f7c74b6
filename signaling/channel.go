// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hivedesk/hivedesk/lib/clock"
	"github.com/hivedesk/hivedesk/lib/version"
	"github.com/hivedesk/hivedesk/wire"
)

// State is the channel's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
)

// LifecycleKind names a connection lifecycle transition.
type LifecycleKind string

const (
	// KindConnected fires when a connection is established.
	KindConnected LifecycleKind = "connected"
	// KindDisconnected fires when a connection is lost or closed. The
	// event's Deliberate flag distinguishes caller-initiated closes
	// from network failures.
	KindDisconnected LifecycleKind = "disconnected"
	// KindTokenExpired fires when the current token's lifetime has
	// elapsed or the server rejected it. Reconnection is suspended
	// until UpdateToken supplies a replacement.
	KindTokenExpired LifecycleKind = "tokenExpired"
	// KindTokenUpdated fires when UpdateToken installs a new token.
	KindTokenUpdated LifecycleKind = "tokenUpdated"
)

// LifecycleEvent reports a connection state change.
type LifecycleEvent struct {
	Kind       LifecycleKind
	Reason     string
	Deliberate bool
}

// Reconnection backoff parameters. Exponential with jitter; the
// ceiling is on consecutive attempts, not wall-clock time.
const (
	DefaultMaxReconnectAttempts = 10

	reconnectBaseDelay    = 500 * time.Millisecond
	reconnectMaxDelay     = 10 * time.Second
	reconnectJitterWindow = 200 * time.Millisecond
)

// Config holds configuration for creating a Channel.
type Config struct {
	// URL is the event service endpoint (ws:// or wss://).
	URL string
	// Token is the bearer token presented as the Token URL parameter.
	Token string

	// ClientVersion overrides the version tag sent to the backend.
	// If empty, the SDK version.
	ClientVersion string
	// CloseExistingSessions asks the backend to evict other live
	// sessions for the same worker.
	CloseExistingSessions bool
	// TokenLifetime arms a local expiration timer on every connect
	// when the backend does not advertise a lifetime itself. Zero
	// disables the local timer.
	TokenLifetime time.Duration

	// Dialer establishes connections. If nil, a WebSocketDialer.
	Dialer Dialer
	// Clock drives backoff and expiry timers. If nil, the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// MaxReconnectAttempts bounds consecutive failed connect
	// attempts. If zero, DefaultMaxReconnectAttempts.
	MaxReconnectAttempts int
}

// Channel owns the single logical connection to the event service.
//
// A Channel is used once: construct, Start, and eventually Disconnect.
// The reconnect attempt counter is per-instance state — it resets to
// its initial value only when a new Channel is constructed.
type Channel struct {
	endpoint      string
	clientVersion string
	closeExisting bool
	tokenLifetime time.Duration
	dialer        Dialer
	clk           clock.Clock
	logger        *slog.Logger
	maxAttempts   int

	messages  chan wire.Envelope
	lifecycle chan LifecycleEvent

	mu            sync.Mutex
	state         State
	token         string
	reconnect     bool
	failures      int // consecutive failed connects; reset on success
	totalAttempts int // per-instance, never reset
	conn          Conn
	expiry        *clock.Timer
	closeReason   string
	stopped       bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewChannel creates a Channel. It does not connect; call Start.
func NewChannel(config Config) (*Channel, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("signaling: URL is required")
	}
	if _, err := url.Parse(config.URL); err != nil {
		return nil, fmt.Errorf("signaling: invalid URL %q: %w", config.URL, err)
	}
	if config.Token == "" {
		return nil, fmt.Errorf("signaling: Token is required")
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = &WebSocketDialer{}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientVersion := config.ClientVersion
	if clientVersion == "" {
		clientVersion = version.SDK
	}
	maxAttempts := config.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}

	return &Channel{
		endpoint:      config.URL,
		clientVersion: clientVersion,
		closeExisting: config.CloseExistingSessions,
		tokenLifetime: config.TokenLifetime,
		dialer:        dialer,
		clk:           clk,
		logger:        logger,
		maxAttempts:   maxAttempts,
		messages:      make(chan wire.Envelope, 64),
		lifecycle:     make(chan LifecycleEvent, 16),
		state:         StateDisconnected,
		token:         config.Token,
		reconnect:     true,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}, nil
}

// Start begins connecting. The connection is maintained until
// Disconnect is called, the context is canceled, or the reconnect
// attempt ceiling is reached.
func (c *Channel) Start(ctx context.Context) {
	go c.run(ctx)
}

// Messages delivers inbound entity and control envelopes in arrival
// order.
func (c *Channel) Messages() <-chan wire.Envelope { return c.messages }

// Lifecycle delivers connection lifecycle events in occurrence order.
func (c *Channel) Lifecycle() <-chan LifecycleEvent { return c.lifecycle }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectEnabled reports whether automatic reconnection is armed.
// It is false after a token expiration until UpdateToken is called.
func (c *Channel) ReconnectEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect
}

// Attempts returns the total connect attempts that failed over this
// Channel's lifetime. Per-instance state; never reset.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalAttempts
}

// UpdateToken installs a new bearer token for the next connect
// attempt and re-arms reconnection. The connection already established
// with the old token is left untouched, and a pending expiration timer
// tied to the old token is suppressed.
func (c *Channel) UpdateToken(token string) error {
	if token == "" {
		return fmt.Errorf("signaling: token must not be empty")
	}

	c.mu.Lock()
	c.token = token
	c.reconnect = true
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.mu.Unlock()

	c.emit(LifecycleEvent{Kind: KindTokenUpdated})
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Disconnect closes the connection deliberately. The resulting
// disconnected event carries the reason and is marked Deliberate so
// consumers can tell it apart from a network failure.
func (c *Channel) Disconnect(reason string) {
	if reason == "" {
		reason = "disconnect requested"
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.closeReason = reason
	c.state = StateClosing
	conn := c.conn
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	if conn != nil {
		conn.Close()
	}
}

// run is the connection loop: dial, read until failure, decide whether
// and when to redial.
func (c *Channel) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			c.finishDeliberate()
			return
		default:
		}

		if !c.ReconnectEnabled() {
			// Token expired: hold until a fresh token arrives.
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				c.finishDeliberate()
				return
			case <-c.wake:
			}
			continue
		}

		c.setState(StateConnecting)
		conn, err := c.dialer.Dial(ctx, c.connectURL())
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				c.expireToken("authentication rejected by server")
				c.setState(StateDisconnected)
				continue
			}
			if !c.connectFailed(ctx, err) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			conn.Close()
			c.finishDeliberate()
			return
		}
		c.conn = conn
		c.state = StateOpen
		reconnected := c.failures > 0 || c.totalAttempts > 0
		c.failures = 0
		c.mu.Unlock()

		if c.tokenLifetime > 0 {
			c.armExpiry(c.tokenLifetime)
		}

		reason := "connection established"
		if reconnected {
			reason = "connection re-established"
		}
		c.emit(LifecycleEvent{Kind: KindConnected, Reason: reason})

		readErr := c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		stopped := c.stopped
		expired := !c.reconnect
		c.state = StateDisconnected
		c.mu.Unlock()

		switch {
		case stopped:
			c.finishDeliberate()
			return
		case expired:
			c.emit(LifecycleEvent{Kind: KindDisconnected, Reason: "token expired"})
		default:
			c.emit(LifecycleEvent{
				Kind:   KindDisconnected,
				Reason: fmt.Sprintf("connection lost: %v", readErr),
			})
		}
	}
}

// readLoop parses and forwards frames until the connection breaks.
func (c *Channel) readLoop(conn Conn) error {
	for {
		data, err := conn.Read()
		if err != nil {
			return err
		}

		envelope, err := wire.ParseEnvelope(data)
		if err != nil {
			// A malformed frame is dropped, never fatal.
			c.logger.Warn("dropping malformed signaling frame", "error", err)
			continue
		}

		switch envelope.EventType {
		case wire.EventConnected:
			c.handleConnectedHello(envelope)
		case wire.EventTokenExpired:
			c.expireToken("server signaled token expiration")
			continue
		}

		select {
		case c.messages <- envelope:
		case <-c.stop:
			return nil
		}
	}
}

// handleConnectedHello arms the token expiry timer when the server
// advertises the token's remaining lifetime. The hello is still
// forwarded so the consumer knows to fetch a fresh snapshot.
func (c *Channel) handleConnectedHello(envelope wire.Envelope) {
	var payload wire.ConnectedPayload
	if err := envelope.DecodePayload(&payload); err != nil {
		c.logger.Warn("malformed connected hello", "error", err)
		return
	}
	if payload.TokenLifetimeMs > 0 {
		c.armExpiry(time.Duration(payload.TokenLifetimeMs) * time.Millisecond)
	}
}

// connectFailed records a failed connect attempt, emits the
// disconnected event, and sleeps out the backoff delay. Returns false
// when the loop should give up.
func (c *Channel) connectFailed(ctx context.Context, err error) bool {
	c.mu.Lock()
	c.failures++
	c.totalAttempts++
	failures := c.failures
	c.state = StateDisconnected
	c.mu.Unlock()

	c.emit(LifecycleEvent{
		Kind:   KindDisconnected,
		Reason: fmt.Sprintf("connect failed: %v", err),
	})

	if failures >= c.maxAttempts {
		c.logger.Error("giving up after repeated connect failures",
			"attempts", failures,
			"error", err,
		)
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		return false
	}

	delay := reconnectDelay(failures)
	c.logger.Warn("connect failed, retrying",
		"attempt", failures,
		"delay", delay,
		"error", err,
	)

	select {
	case <-ctx.Done():
		return false
	case <-c.stop:
		c.finishDeliberate()
		return false
	case <-c.clk.After(delay):
		return true
	}
}

// expireToken suspends reconnection and notifies the consumer. The
// caller must supply a fresh token via UpdateToken to resume.
func (c *Channel) expireToken(reason string) {
	c.mu.Lock()
	if !c.reconnect {
		// Already expired; a duplicate signal is not re-emitted.
		c.mu.Unlock()
		return
	}
	c.reconnect = false
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	conn := c.conn
	c.mu.Unlock()

	c.emit(LifecycleEvent{Kind: KindTokenExpired, Reason: reason})
	if conn != nil {
		conn.Close()
	}
}

func (c *Channel) armExpiry(lifetime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry != nil {
		c.expiry.Stop()
	}
	c.expiry = c.clk.AfterFunc(lifetime, func() {
		c.expireToken("token lifetime elapsed")
	})
}

func (c *Channel) finishDeliberate() {
	c.mu.Lock()
	reason := c.closeReason
	c.state = StateDisconnected
	c.mu.Unlock()
	if reason == "" {
		reason = "disconnect requested"
	}
	c.emit(LifecycleEvent{Kind: KindDisconnected, Reason: reason, Deliberate: true})
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// emit delivers a lifecycle event. The channel is buffered; a consumer
// that stops draining only ever loses lifecycle events, not entity
// state (which is rebuilt from the snapshot on reconnect anyway).
func (c *Channel) emit(event LifecycleEvent) {
	select {
	case c.lifecycle <- event:
	default:
		c.logger.Warn("dropping lifecycle event, consumer not draining",
			"kind", event.Kind,
			"reason", event.Reason,
		)
	}
}

// connectURL builds the connection URL with the Token, ClientVersion,
// and CloseExistingSessions parameters.
func (c *Channel) connectURL() string {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	query := url.Values{}
	query.Set("Token", token)
	query.Set("ClientVersion", c.clientVersion)
	query.Set("CloseExistingSessions", strconv.FormatBool(c.closeExisting))

	separator := "?"
	if strings.Contains(c.endpoint, "?") {
		separator = "&"
	}
	return c.endpoint + separator + query.Encode()
}

// reconnectDelay computes the jittered exponential backoff before the
// given consecutive attempt (1-based).
func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay << uint(attempt-1)
	if delay > reconnectMaxDelay || delay <= 0 {
		delay = reconnectMaxDelay
	}
	return delay + time.Duration(rand.Float64()*float64(reconnectJitterWindow))
}
