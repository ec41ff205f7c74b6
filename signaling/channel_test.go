// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/hivedesk/hivedesk/lib/clock"
	"github.com/hivedesk/hivedesk/lib/testutil"
	"github.com/hivedesk/hivedesk/lib/version"
	"github.com/hivedesk/hivedesk/wire"
)

const testTimeout = 5 * time.Second

func newTestChannel(t *testing.T, dialer *MemoryDialer, clk clock.Clock, mutate func(*Config)) *Channel {
	t.Helper()
	config := Config{
		URL:    "wss://events.example.com/v1/wschannels",
		Token:  "token-1",
		Dialer: dialer,
		Clock:  clk,
	}
	if mutate != nil {
		mutate(&config)
	}
	channel, err := NewChannel(config)
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	return channel
}

// requireLifecycle reads the next lifecycle event and asserts its kind.
func requireLifecycle(t *testing.T, channel *Channel, kind LifecycleKind) LifecycleEvent {
	t.Helper()
	event := testutil.RequireReceive(t, channel.Lifecycle(), testTimeout,
		"waiting for %s lifecycle event", kind)
	if event.Kind != kind {
		t.Fatalf("lifecycle event = %+v, want kind %s", event, kind)
	}
	return event
}

func TestNewChannelValidation(t *testing.T) {
	if _, err := NewChannel(Config{Token: "t"}); err == nil {
		t.Error("expected an error for a missing URL")
	}
	if _, err := NewChannel(Config{URL: "wss://example.com"}); err == nil {
		t.Error("expected an error for a missing token")
	}
}

func TestConnectURLCarriesSessionParameters(t *testing.T) {
	dialer := NewMemoryDialer()
	channel := newTestChannel(t, dialer, clock.Fake(time.Now()), func(c *Config) {
		c.CloseExistingSessions = true
	})
	channel.Start(context.Background())

	testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for dial")
	requireLifecycle(t, channel, KindConnected)

	dialed, err := url.Parse(dialer.DialURLs()[0])
	if err != nil {
		t.Fatalf("parsing dial URL: %v", err)
	}
	query := dialed.Query()
	if got := query.Get("Token"); got != "token-1" {
		t.Errorf("Token = %q", got)
	}
	if got := query.Get("ClientVersion"); got != version.SDK {
		t.Errorf("ClientVersion = %q, want %q", got, version.SDK)
	}
	if got := query.Get("CloseExistingSessions"); got != "true" {
		t.Errorf("CloseExistingSessions = %q", got)
	}
}

func TestEntityEventsAreForwardedInOrder(t *testing.T) {
	dialer := NewMemoryDialer()
	channel := newTestChannel(t, dialer, clock.Fake(time.Now()), nil)
	channel.Start(context.Background())

	conn := testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for dial")
	requireLifecycle(t, channel, KindConnected)

	conn.PushEnvelope(wire.Envelope{
		EventType: wire.EventReservationCreated,
		Payload:   json.RawMessage(`{"sid":"WR1"}`),
	})
	conn.PushEnvelope(wire.Envelope{
		EventType: wire.EventTaskUpdated,
		Payload:   json.RawMessage(`{"sid":"WT1"}`),
	})

	first := testutil.RequireReceive(t, channel.Messages(), testTimeout, "waiting for first envelope")
	second := testutil.RequireReceive(t, channel.Messages(), testTimeout, "waiting for second envelope")
	if first.EventType != wire.EventReservationCreated || second.EventType != wire.EventTaskUpdated {
		t.Errorf("event order = %s, %s", first.EventType, second.EventType)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	dialer := NewMemoryDialer()
	channel := newTestChannel(t, dialer, clock.Fake(time.Now()), nil)
	channel.Start(context.Background())

	conn := testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for dial")
	requireLifecycle(t, channel, KindConnected)

	conn.Push([]byte(`{not json`))
	conn.Push([]byte(`{"payload":{}}`)) // missing event_type
	conn.PushEnvelope(wire.Envelope{
		EventType: wire.EventTaskUpdated,
		Payload:   json.RawMessage(`{"sid":"WT1"}`),
	})

	envelope := testutil.RequireReceive(t, channel.Messages(), testTimeout, "waiting for the valid envelope")
	if envelope.EventType != wire.EventTaskUpdated {
		t.Errorf("EventType = %q", envelope.EventType)
	}
	if channel.State() != StateOpen {
		t.Errorf("State = %s, want %s after malformed frames", channel.State(), StateOpen)
	}
}

func TestReconnectBacksOffAndRecovers(t *testing.T) {
	dialer := NewMemoryDialer()
	dialer.FailNext(errors.New("connection refused"), errors.New("connection refused"))
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	channel := newTestChannel(t, dialer, fake, nil)
	channel.Start(context.Background())

	// First attempt fails immediately; the loop waits out the first
	// backoff window (500ms base plus up to 200ms jitter).
	requireLifecycle(t, channel, KindDisconnected)
	fake.WaitForTimers(1)
	fake.Advance(700 * time.Millisecond)

	// Second failure doubles the delay.
	requireLifecycle(t, channel, KindDisconnected)
	fake.WaitForTimers(1)
	fake.Advance(1200 * time.Millisecond)

	// Third attempt succeeds and resets the consecutive failure count,
	// while the lifetime attempt counter keeps its value.
	testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for successful dial")
	requireLifecycle(t, channel, KindConnected)
	if dialer.DialCount() != 3 {
		t.Errorf("DialCount = %d, want 3", dialer.DialCount())
	}
	if channel.Attempts() != 2 {
		t.Errorf("Attempts = %d, want 2", channel.Attempts())
	}
	if channel.State() != StateOpen {
		t.Errorf("State = %s, want %s", channel.State(), StateOpen)
	}
}

func TestReconnectGivesUpAtAttemptCeiling(t *testing.T) {
	dialer := NewMemoryDialer()
	dialer.FailNext(errors.New("refused"), errors.New("refused"), errors.New("refused"))
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	channel := newTestChannel(t, dialer, fake, func(c *Config) {
		c.MaxReconnectAttempts = 2
	})
	channel.Start(context.Background())

	requireLifecycle(t, channel, KindDisconnected)
	fake.WaitForTimers(1)
	fake.Advance(700 * time.Millisecond)
	requireLifecycle(t, channel, KindDisconnected)

	// The ceiling was reached on the second failure: no backoff timer
	// is armed and no further dial happens.
	testutil.RequireNoReceive(t, dialer.Accepted(), 100*time.Millisecond,
		"no dial should follow the final failure")
	if dialer.DialCount() != 2 {
		t.Errorf("DialCount = %d, want 2", dialer.DialCount())
	}
	if got := fake.PendingCount(); got != 0 {
		t.Errorf("PendingCount = %d, want 0 after giving up", got)
	}
}

func TestAuthRejectionSuspendsReconnectUntilNewToken(t *testing.T) {
	dialer := NewMemoryDialer()
	dialer.FailNext(ErrAuthRejected)
	channel := newTestChannel(t, dialer, clock.Fake(time.Now()), nil)
	channel.Start(context.Background())

	requireLifecycle(t, channel, KindTokenExpired)
	testutil.RequireNoReceive(t, dialer.Accepted(), 100*time.Millisecond,
		"no redial with a rejected token")
	if channel.ReconnectEnabled() {
		t.Error("ReconnectEnabled = true after auth rejection, want false")
	}

	if err := channel.UpdateToken("token-2"); err != nil {
		t.Fatalf("UpdateToken failed: %v", err)
	}
	requireLifecycle(t, channel, KindTokenUpdated)
	if !channel.ReconnectEnabled() {
		t.Error("ReconnectEnabled = false after UpdateToken, want true")
	}

	testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for redial")
	requireLifecycle(t, channel, KindConnected)

	dialed, err := url.Parse(dialer.DialURLs()[1])
	if err != nil {
		t.Fatalf("parsing dial URL: %v", err)
	}
	if got := dialed.Query().Get("Token"); got != "token-2" {
		t.Errorf("redial Token = %q, want token-2", got)
	}
}

func TestServerTokenExpirationSignal(t *testing.T) {
	dialer := NewMemoryDialer()
	channel := newTestChannel(t, dialer, clock.Fake(time.Now()), nil)
	channel.Start(context.Background())

	conn := testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for dial")
	requireLifecycle(t, channel, KindConnected)

	conn.PushEnvelope(wire.Envelope{
		EventType: wire.EventTokenExpired,
		Payload:   json.RawMessage(`{}`),
	})

	requireLifecycle(t, channel, KindTokenExpired)
	event := requireLifecycle(t, channel, KindDisconnected)
	if event.Deliberate {
		t.Error("token-expiry disconnect must not be marked deliberate")
	}
	if channel.ReconnectEnabled() {
		t.Error("ReconnectEnabled = true after server expiration, want false")
	}
	testutil.RequireNoReceive(t, dialer.Accepted(), 100*time.Millisecond,
		"no redial with an expired token")
}

func TestAdvertisedLifetimeArmsExpiryTimer(t *testing.T) {
	dialer := NewMemoryDialer()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	channel := newTestChannel(t, dialer, fake, nil)
	channel.Start(context.Background())

	conn := testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for dial")
	requireLifecycle(t, channel, KindConnected)

	conn.PushEnvelope(wire.Envelope{
		EventType: wire.EventConnected,
		Payload:   json.RawMessage(`{"session_sid":"SN1","token_lifetime_ms":5000}`),
	})
	hello := testutil.RequireReceive(t, channel.Messages(), testTimeout, "hello should be forwarded")
	if hello.EventType != wire.EventConnected {
		t.Fatalf("EventType = %q", hello.EventType)
	}

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)

	event := requireLifecycle(t, channel, KindTokenExpired)
	if event.Reason != "token lifetime elapsed" {
		t.Errorf("Reason = %q", event.Reason)
	}
	requireLifecycle(t, channel, KindDisconnected)
	if channel.ReconnectEnabled() {
		t.Error("ReconnectEnabled = true after lifetime elapsed, want false")
	}
}

func TestUpdateTokenSuppressesPendingExpiry(t *testing.T) {
	dialer := NewMemoryDialer()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	channel := newTestChannel(t, dialer, fake, func(c *Config) {
		c.TokenLifetime = time.Hour
	})
	channel.Start(context.Background())

	testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for dial")
	requireLifecycle(t, channel, KindConnected)
	fake.WaitForTimers(1)

	if err := channel.UpdateToken("token-2"); err != nil {
		t.Fatalf("UpdateToken failed: %v", err)
	}
	requireLifecycle(t, channel, KindTokenUpdated)

	// The old token's expiry deadline passes without effect: no
	// tokenExpired event, and the connection stays open.
	fake.Advance(2 * time.Hour)
	testutil.RequireNoReceive(t, channel.Lifecycle(), 100*time.Millisecond,
		"suppressed expiry must not fire")
	if channel.State() != StateOpen {
		t.Errorf("State = %s, want %s", channel.State(), StateOpen)
	}
	if !channel.ReconnectEnabled() {
		t.Error("ReconnectEnabled = false, want true")
	}
}

func TestUpdateTokenRejectsEmpty(t *testing.T) {
	dialer := NewMemoryDialer()
	channel := newTestChannel(t, dialer, clock.Fake(time.Now()), nil)
	if err := channel.UpdateToken(""); err == nil {
		t.Fatal("expected an error for an empty token")
	}
}

func TestNetworkDropRedialsDeliberateCloseDoesNot(t *testing.T) {
	dialer := NewMemoryDialer()
	channel := newTestChannel(t, dialer, clock.Fake(time.Now()), nil)
	channel.Start(context.Background())

	conn := testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for dial")
	requireLifecycle(t, channel, KindConnected)

	// Network failure: not deliberate, redial follows immediately.
	conn.Sever()
	dropped := requireLifecycle(t, channel, KindDisconnected)
	if dropped.Deliberate {
		t.Error("network drop marked deliberate")
	}
	testutil.RequireReceive(t, dialer.Accepted(), testTimeout, "waiting for redial")
	requireLifecycle(t, channel, KindConnected)

	// Deliberate close: the reason is preserved and nothing redials.
	channel.Disconnect("shift ended")
	closed := requireLifecycle(t, channel, KindDisconnected)
	if !closed.Deliberate || closed.Reason != "shift ended" {
		t.Errorf("deliberate disconnect event = %+v", closed)
	}
	testutil.RequireNoReceive(t, dialer.Accepted(), 100*time.Millisecond,
		"no redial after a deliberate close")
	if channel.State() != StateDisconnected {
		t.Errorf("State = %s, want %s", channel.State(), StateDisconnected)
	}
}
