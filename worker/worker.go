// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hivedesk/hivedesk/lib/clock"
	"github.com/hivedesk/hivedesk/rest"
	"github.com/hivedesk/hivedesk/signaling"
)

// Config holds configuration for creating a Worker session.
type Config struct {
	// Token is the bearer token for both planes.
	Token string
	// WorkspaceSid scopes the session to one backend tenant.
	WorkspaceSid string
	// WorkerSid identifies the worker.
	WorkerSid string
	// RESTBaseURL is the control plane root.
	RESTBaseURL string
	// EventsURL is the signaling endpoint (ws:// or wss://).
	EventsURL string

	// ConnectActivitySid is an activity to adopt once the first
	// snapshot has been applied. Empty keeps the server-side activity.
	ConnectActivitySid string
	// CloseExistingSessions evicts other live sessions for the same
	// worker on connect.
	CloseExistingSessions bool
	// TokenLifetime arms a local token-expiry timer per connection
	// when the backend does not advertise one.
	TokenLifetime time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects.
	MaxReconnectAttempts int

	// HTTPClient serves the control plane. If nil, http.DefaultClient.
	HTTPClient *http.Client
	// Dialer establishes signaling connections. If nil, a websocket
	// dialer.
	Dialer signaling.Dialer
	// Clock drives retry and expiry timers. If nil, the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// CreateTaskOptions configures Worker.CreateTask.
type CreateTaskOptions struct {
	WorkflowSid string

	// At most one of TaskChannelUniqueName and TaskChannelSid is set.
	TaskChannelUniqueName string
	TaskChannelSid        string

	Attributes json.RawMessage
}

// Worker is the aggregate root of one routing session: it owns the
// signaling channel, the REST client, and the entity store, and is the
// only writer of wire-derived entity state. Sessions are fully
// isolated; two Workers share no entity state and no retry counters.
type Worker struct {
	rest    *rest.Client
	channel *signaling.Channel
	logger  *slog.Logger

	connectActivitySid string

	mu                sync.Mutex
	sid               string
	accountSid        string
	workspaceSid      string
	name              string
	attributes        json.RawMessage
	available         bool
	activitySid       string
	sessionSid        string
	dateUpdated       time.Time
	dateStatusChanged time.Time
	ready             bool
	loadCycle         uint64

	activities   map[string]*Activity
	channels     map[string]*Channel
	reservations map[string]*Reservation
	tasks        map[string]*Task
	// removedReservations maps a terminal reservation's sid to the
	// loadCycle it was removed in.
	removedReservations map[string]uint64

	readySig              signal[struct{}]
	errorsSig             signal[error]
	disconnectsSig        signal[DisconnectEvent]
	tokenExpiredSig       signal[struct{}]
	tokenUpdatedSig       signal[struct{}]
	activitySig           signal[*Activity]
	attributesSig         signal[json.RawMessage]
	reservationCreatedSig signal[*Reservation]
	reservationSig        signal[ReservationEvent]

	connectOnce sync.Once
	closeOnce   sync.Once
	closed      chan struct{}
}

// New creates a Worker session and begins connecting immediately. The
// first ready event fires once the initial snapshot (worker, activities,
// channels, pending reservations) has been applied.
func New(ctx context.Context, config Config) (*Worker, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	restClient, err := rest.NewClient(rest.Config{
		BaseURL:      config.RESTBaseURL,
		WorkspaceSid: config.WorkspaceSid,
		WorkerSid:    config.WorkerSid,
		Token:        config.Token,
		HTTPClient:   config.HTTPClient,
		Logger:       logger,
		Clock:        config.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	channel, err := signaling.NewChannel(signaling.Config{
		URL:                   config.EventsURL,
		Token:                 config.Token,
		CloseExistingSessions: config.CloseExistingSessions,
		TokenLifetime:         config.TokenLifetime,
		Dialer:                config.Dialer,
		Clock:                 config.Clock,
		Logger:                logger,
		MaxReconnectAttempts:  config.MaxReconnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	w := &Worker{
		rest:                restClient,
		channel:             channel,
		logger:              logger,
		connectActivitySid:  config.ConnectActivitySid,
		sid:                 config.WorkerSid,
		workspaceSid:        config.WorkspaceSid,
		activities:          make(map[string]*Activity),
		channels:            make(map[string]*Channel),
		reservations:        make(map[string]*Reservation),
		tasks:               make(map[string]*Task),
		removedReservations: make(map[string]uint64),
		closed:              make(chan struct{}),
	}

	channel.Start(ctx)
	go w.dispatch(ctx)
	return w, nil
}

// --- accessors ---

// Sid returns the worker's identifier.
func (w *Worker) Sid() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sid
}

// WorkspaceSid returns the tenant scope of this session.
func (w *Worker) WorkspaceSid() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workspaceSid
}

// Name returns the worker's friendly name.
func (w *Worker) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

// Attributes returns the worker's attribute document.
func (w *Worker) Attributes() json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append(json.RawMessage(nil), w.attributes...)
}

// Available reports whether the worker's current activity accepts new
// reservations.
func (w *Worker) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

// IsReady reports whether a snapshot has been applied on the current
// connection.
func (w *Worker) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// SessionSid returns the signaling session identifier from the server
// hello, if one has arrived.
func (w *Worker) SessionSid() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionSid
}

// Activities returns the workspace's activities keyed by sid.
func (w *Worker) Activities() map[string]*Activity {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]*Activity, len(w.activities))
	for sid, activity := range w.activities {
		out[sid] = activity
	}
	return out
}

// CurrentActivity returns the worker's current activity, or nil before
// the first snapshot.
func (w *Worker) CurrentActivity() *Activity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activities[w.activitySid]
}

// Channels returns the worker's capacity channels keyed by sid.
func (w *Worker) Channels() map[string]*Channel {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]*Channel, len(w.channels))
	for sid, channel := range w.channels {
		out[sid] = channel
	}
	return out
}

// Reservations returns the live (non-terminal) reservations keyed by
// sid.
func (w *Worker) Reservations() map[string]*Reservation {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]*Reservation, len(w.reservations))
	for sid, reservation := range w.reservations {
		out[sid] = reservation
	}
	return out
}

// RetryCount returns the REST retry attempts made over this session's
// lifetime. Per-session state; resets only with a new Worker.
func (w *Worker) RetryCount() int { return w.rest.RetryCount() }

// --- event subscriptions ---

// Ready fires after each applied snapshot: once on the initial
// connect, and again after every successful reconnect.
func (w *Worker) Ready() <-chan struct{} { return w.readySig.subscribe() }

// Errors delivers fatal session errors. The worker does not
// auto-recover from these; a well-behaved caller disconnects.
func (w *Worker) Errors() <-chan error { return w.errorsSig.subscribe() }

// Disconnects delivers connection-loss events.
func (w *Worker) Disconnects() <-chan DisconnectEvent { return w.disconnectsSig.subscribe() }

// TokenExpirations fires when the current token's lifetime elapses.
func (w *Worker) TokenExpirations() <-chan struct{} { return w.tokenExpiredSig.subscribe() }

// TokenUpdates fires after UpdateToken installs a new token.
func (w *Worker) TokenUpdates() <-chan struct{} { return w.tokenUpdatedSig.subscribe() }

// ActivityUpdates delivers the new current activity after each change.
func (w *Worker) ActivityUpdates() <-chan *Activity { return w.activitySig.subscribe() }

// AttributeUpdates delivers the worker's attribute document after each
// change.
func (w *Worker) AttributeUpdates() <-chan json.RawMessage { return w.attributesSig.subscribe() }

// ReservationCreations delivers each newly offered reservation.
func (w *Worker) ReservationCreations() <-chan *Reservation {
	return w.reservationCreatedSig.subscribe()
}

// ReservationUpdates re-exposes reservation status changes at the
// worker level, named with the "reservation." prefix.
func (w *Worker) ReservationUpdates() <-chan ReservationEvent {
	return w.reservationSig.subscribe()
}

// --- commands ---

// SetAttributes replaces the worker's attribute document. The document
// is validated synchronously before any network call; the update is
// idempotent and retried on transient failures.
func (w *Worker) SetAttributes(ctx context.Context, attributes json.RawMessage) error {
	if err := validateAttributes(attributes); err != nil {
		return err
	}
	payload, err := w.rest.UpdateWorker(ctx, rest.WorkerUpdate{Attributes: attributes})
	if err != nil {
		return fmt.Errorf("worker: setting attributes: %w", err)
	}
	w.applyWorkerSeed(payload)
	return nil
}

// SetActivity adopts the given activity as current, optionally
// rejecting all pending reservations in the same mutation.
func (w *Worker) SetActivity(ctx context.Context, activitySid string, rejectPending bool) (*Activity, error) {
	if activitySid == "" {
		return nil, fmt.Errorf("worker: activity sid is required")
	}
	payload, err := w.rest.UpdateWorker(ctx, rest.WorkerUpdate{
		ActivitySid:               activitySid,
		RejectPendingReservations: rejectPending,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: setting activity %s: %w", activitySid, err)
	}
	w.applyWorkerSeed(payload)
	return w.CurrentActivity(), nil
}

// CreateTask creates a new task in the workspace and returns its sid.
// The task enters this worker's entity graph only if the backend later
// routes it here through a reservation.
func (w *Worker) CreateTask(ctx context.Context, options CreateTaskOptions) (string, error) {
	if options.TaskChannelUniqueName != "" && options.TaskChannelSid != "" {
		return "", fmt.Errorf("worker: set at most one of TaskChannelUniqueName and TaskChannelSid")
	}
	if options.Attributes != nil {
		if err := validateAttributes(options.Attributes); err != nil {
			return "", err
		}
	}
	payload, err := w.rest.CreateTask(ctx, rest.CreateTaskRequest{
		TaskChannelUniqueName: options.TaskChannelUniqueName,
		TaskChannelSid:        options.TaskChannelSid,
		WorkflowSid:           options.WorkflowSid,
		Attributes:            options.Attributes,
	})
	if err != nil {
		return "", fmt.Errorf("worker: creating task: %w", err)
	}
	return payload.Sid, nil
}

// UpdateToken installs a fresh bearer token on both planes. The
// signaling channel uses it on its next connect attempt and re-arms
// reconnection if a token expiry had suspended it; REST requests use
// it immediately.
func (w *Worker) UpdateToken(token string) error {
	if token == "" {
		return fmt.Errorf("worker: token must not be empty")
	}
	w.rest.UpdateToken(token)
	return w.channel.UpdateToken(token)
}

// Disconnect ends the session deliberately. The final disconnected
// event carries the reason and is marked deliberate.
func (w *Worker) Disconnect(reason string) {
	w.channel.Disconnect(reason)
}

// --- dispatch ---

// dispatch is the single goroutine applying wire-derived state: it
// serializes every lifecycle event and entity envelope from the
// signaling channel into store mutations.
func (w *Worker) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closed:
			return
		case event := <-w.channel.Lifecycle():
			w.handleLifecycle(ctx, event)
		case envelope := <-w.channel.Messages():
			w.route(envelope)
		}
	}
}

func (w *Worker) handleLifecycle(ctx context.Context, event signaling.LifecycleEvent) {
	switch event.Kind {
	case signaling.KindConnected:
		// Snapshot fetches suspend on REST, so they run off the
		// dispatch goroutine. Monotonic application reconciles updates
		// interleaving with the snapshot; the snapshot cycle marker
		// keeps its reconciliation from dropping reservations created
		// while the fetch was in flight.
		go w.loadSnapshot(ctx)

	case signaling.KindDisconnected:
		w.mu.Lock()
		w.ready = false
		w.mu.Unlock()
		if !event.Deliberate {
			// Drop pooled connections that may share the broken path.
			w.rest.CloseIdleConnections()
		}
		w.disconnectsSig.emit(DisconnectEvent{Reason: event.Reason, Deliberate: event.Deliberate})
		if event.Deliberate {
			w.closeOnce.Do(func() { close(w.closed) })
		}

	case signaling.KindTokenExpired:
		w.tokenExpiredSig.emit(struct{}{})

	case signaling.KindTokenUpdated:
		w.tokenUpdatedSig.emit(struct{}{})
	}
}

// loadSnapshot rebuilds the entity graph from the control plane after
// a (re)connect. Nothing is persisted locally; the snapshot is the
// only source of pre-connection state.
func (w *Worker) loadSnapshot(ctx context.Context) {
	cycle := w.beginSnapshotCycle()

	workerPayload, err := w.rest.FetchWorker(ctx)
	if err != nil {
		w.snapshotFailed(err)
		return
	}
	activities, err := w.rest.ListActivities(ctx)
	if err != nil {
		w.snapshotFailed(err)
		return
	}
	channels, err := w.rest.ListChannels(ctx)
	if err != nil {
		w.snapshotFailed(err)
		return
	}
	reservations, err := w.rest.ListActiveReservations(ctx)
	if err != nil {
		w.snapshotFailed(err)
		return
	}

	w.applySnapshot(cycle, workerPayload, activities, channels, reservations)

	if w.connectActivitySid != "" {
		w.connectOnce.Do(func() {
			current := w.CurrentActivity()
			if current != nil && current.Sid() == w.connectActivitySid {
				return
			}
			if _, err := w.SetActivity(ctx, w.connectActivitySid, false); err != nil {
				w.logger.Warn("adopting connect activity failed",
					"activity_sid", w.connectActivitySid,
					"error", err,
				)
				w.errorsSig.emit(err)
			}
		})
	}
}

func (w *Worker) snapshotFailed(err error) {
	w.logger.Error("state snapshot load failed", "error", err)
	w.errorsSig.emit(fmt.Errorf("worker: loading state snapshot: %w", err))
}

// validateAttributes enforces the synchronous parameter contract for
// attribute documents: present, valid JSON, and an object at the top
// level.
func validateAttributes(attributes json.RawMessage) error {
	trimmed := bytes.TrimSpace(attributes)
	if len(trimmed) == 0 {
		return fmt.Errorf("worker: attributes are required")
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return fmt.Errorf("worker: attributes must be a JSON object")
	}
	return nil
}
