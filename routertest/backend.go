// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package routertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivedesk/hivedesk/rest"
	"github.com/hivedesk/hivedesk/signaling"
	"github.com/hivedesk/hivedesk/wire"
)

// ActivitySeed declares one activity of the fake workspace.
type ActivitySeed struct {
	Sid       string
	Name      string
	Available bool
}

// ChannelSeed declares one capacity channel of the fake worker.
type ChannelSeed struct {
	Sid        string
	UniqueName string
	Capacity   int
}

// Options configures a Backend.
type Options struct {
	WorkspaceSid string
	WorkerSid    string
	WorkerName   string
	Token        string

	Activities         []ActivitySeed
	InitialActivitySid string
	Channels           []ChannelSeed

	// TokenLifetimeMs is advertised in the server hello when non-zero.
	TokenLifetimeMs int64
}

// Instruction records one routing instruction issued against a
// reservation, for test assertions.
type Instruction struct {
	ReservationSid string
	Update         rest.ReservationUpdate
}

// Backend is the in-process fake routing backend.
type Backend struct {
	mu sync.Mutex

	workspaceSid    string
	workerSid       string
	token           string
	tokenLifetimeMs int64

	base    time.Time
	logical int64

	worker       wire.WorkerPayload
	activities   []wire.ActivityPayload
	channels     []wire.ChannelPayload
	reservations map[string]*wire.ReservationPayload
	tasks        map[string]*wire.TaskPayload
	transfers    map[string]*wire.TransferPayload

	// transferTargets maps a transfer sid to the reservation offered
	// to the transferee.
	transferTargets map[string]string

	unavailableWorkers map[string]bool
	participants       map[string]map[string]bool
	instructions       []Instruction

	server    *httptest.Server
	dialer    *signaling.MemoryDialer
	conn      *signaling.MemoryConn
	sinks     []EventSink
	connected chan struct{}
	done      chan struct{}
}

// EventSink receives every envelope the backend pushes. MemoryConn is
// one; the mock-router binary attaches live websocket sessions.
type EventSink interface {
	PushEnvelope(envelope wire.Envelope)
}

// New starts a Backend. Call Close when done.
func New(options Options) *Backend {
	if options.WorkspaceSid == "" {
		options.WorkspaceSid = "WS" + hexSid()
	}
	if options.WorkerSid == "" {
		options.WorkerSid = "WK" + hexSid()
	}
	if options.WorkerName == "" {
		options.WorkerName = "test-worker"
	}
	if options.Token == "" {
		options.Token = "test-token"
	}
	if len(options.Activities) == 0 {
		options.Activities = []ActivitySeed{
			{Sid: "WA" + hexSid(), Name: "Offline", Available: false},
			{Sid: "WA" + hexSid(), Name: "Available", Available: true},
		}
	}
	if options.InitialActivitySid == "" {
		options.InitialActivitySid = options.Activities[0].Sid
	}

	b := &Backend{
		workspaceSid:       options.WorkspaceSid,
		workerSid:          options.WorkerSid,
		token:              options.Token,
		tokenLifetimeMs:    options.TokenLifetimeMs,
		base:               time.Now().UTC().Truncate(time.Second),
		reservations:       make(map[string]*wire.ReservationPayload),
		tasks:              make(map[string]*wire.TaskPayload),
		transfers:          make(map[string]*wire.TransferPayload),
		transferTargets:    make(map[string]string),
		unavailableWorkers: make(map[string]bool),
		participants:       make(map[string]map[string]bool),
		dialer:             signaling.NewMemoryDialer(),
		connected:          make(chan struct{}, 16),
		done:               make(chan struct{}),
	}

	now := b.tick()
	var initial *ActivitySeed
	for i := range options.Activities {
		seed := options.Activities[i]
		b.activities = append(b.activities, wire.ActivityPayload{
			Sid:          seed.Sid,
			WorkspaceSid: b.workspaceSid,
			Name:         seed.Name,
			Available:    seed.Available,
			DateUpdated:  now,
		})
		if seed.Sid == options.InitialActivitySid {
			initial = &options.Activities[i]
		}
	}
	if initial == nil {
		initial = &options.Activities[0]
	}
	for _, seed := range options.Channels {
		chanSid := seed.Sid
		if chanSid == "" {
			chanSid = "WC" + hexSid()
		}
		b.channels = append(b.channels, wire.ChannelPayload{
			Sid:                   chanSid,
			WorkerSid:             b.workerSid,
			TaskChannelUniqueName: seed.UniqueName,
			Capacity:              seed.Capacity,
			Available:             seed.Capacity > 0,
			DateUpdated:           now,
		})
	}
	b.worker = wire.WorkerPayload{
		Sid:               b.workerSid,
		AccountSid:        "AC" + hexSid(),
		WorkspaceSid:      b.workspaceSid,
		FriendlyName:      options.WorkerName,
		Attributes:        json.RawMessage(`{}`),
		ActivitySid:       initial.Sid,
		ActivityName:      initial.Name,
		Available:         initial.Available,
		DateUpdated:       now,
		DateStatusChanged: now,
	}

	b.server = httptest.NewServer(b.authenticated(b.mux()))
	go b.acceptLoop()
	return b
}

// Close shuts the backend down.
func (b *Backend) Close() {
	close(b.done)
	b.server.Close()
}

// RESTBaseURL returns the control plane root.
func (b *Backend) RESTBaseURL() string { return b.server.URL }

// Handler returns the authenticated control-plane handler, for
// embedding the fake behind a caller-owned listener.
func (b *Backend) Handler() http.Handler { return b.authenticated(b.mux()) }

// AttachSink subscribes an additional event consumer and immediately
// sends it the server hello.
func (b *Backend) AttachSink(sink EventSink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	lifetime := b.tokenLifetimeMs
	b.mu.Unlock()
	b.pushTo(sink, wire.EventConnected, wire.ConnectedPayload{
		SessionSid:      "SN" + hexSid(),
		TokenLifetimeMs: lifetime,
	})
}

// DetachSink unsubscribes a previously attached sink.
func (b *Backend) DetachSink(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.sinks {
		if s == sink {
			b.sinks = append(b.sinks[:i], b.sinks[i+1:]...)
			return
		}
	}
}

// EventsURL returns a placeholder signaling URL; the in-memory dialer
// ignores the host.
func (b *Backend) EventsURL() string { return "wss://routertest.invalid/v1/wschannels" }

// Dialer returns the in-memory signaling dialer to connect through.
func (b *Backend) Dialer() *signaling.MemoryDialer { return b.dialer }

// WorkspaceSid returns the fake tenant's sid.
func (b *Backend) WorkspaceSid() string { return b.workspaceSid }

// WorkerSid returns the fake worker's sid.
func (b *Backend) WorkerSid() string { return b.workerSid }

// Token returns the currently accepted bearer token.
func (b *Backend) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// SetToken rotates the accepted bearer token.
func (b *Backend) SetToken(token string) {
	b.mu.Lock()
	b.token = token
	b.mu.Unlock()
}

// ConnectionEstablished signals each time a signaling connection is
// accepted and the hello has been pushed.
func (b *Backend) ConnectionEstablished() <-chan struct{} { return b.connected }

// SetWorkerUnavailable marks a transfer target as unavailable; a
// transfer to it is rejected with a 400 and creates nothing.
func (b *Backend) SetWorkerUnavailable(workerSid string) {
	b.mu.Lock()
	b.unavailableWorkers[workerSid] = true
	b.mu.Unlock()
}

// AddConferenceParticipants marks workers as active participants of
// the task's conference, satisfying the hold precondition.
func (b *Backend) AddConferenceParticipants(taskSid string, workerSids ...string) {
	b.mu.Lock()
	set := b.participants[taskSid]
	if set == nil {
		set = make(map[string]bool)
		b.participants[taskSid] = set
	}
	for _, sid := range workerSids {
		set[sid] = true
	}
	b.mu.Unlock()
}

// Instructions returns the routing instructions issued so far.
func (b *Backend) Instructions() []Instruction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Instruction(nil), b.instructions...)
}

// OfferTask creates a pending task and a pending reservation offering
// it to the worker, pushes the creation event, and returns both sids.
func (b *Backend) OfferTask(attributes json.RawMessage) (reservationSid, taskSid string) {
	if attributes == nil {
		attributes = json.RawMessage(`{}`)
	}
	b.mu.Lock()
	now := b.tick()
	task := &wire.TaskPayload{
		Sid:                   "WT" + hexSid(),
		WorkspaceSid:          b.workspaceSid,
		Status:                wire.TaskStatusReserved,
		Attributes:            attributes,
		Priority:              0,
		QueueSid:              "WQ" + hexSid(),
		QueueName:             "default",
		WorkflowSid:           "WW" + hexSid(),
		WorkflowName:          "default",
		TaskChannelUniqueName: "default",
		Timeout:               120,
		DateCreated:           now,
		DateUpdated:           now,
	}
	reservation := &wire.ReservationPayload{
		Sid:          "WR" + hexSid(),
		AccountSid:   b.worker.AccountSid,
		WorkspaceSid: b.workspaceSid,
		WorkerSid:    b.workerSid,
		TaskSid:      task.Sid,
		Status:       wire.ReservationStatusPending,
		Timeout:      120,
		DateCreated:  now,
		DateUpdated:  now,
	}
	b.tasks[task.Sid] = task
	b.reservations[reservation.Sid] = reservation
	payload := b.composeReservationLocked(reservation)
	b.mu.Unlock()

	b.push(wire.EventReservationCreated, payload)
	return reservation.Sid, task.Sid
}

// ExpireToken pushes the server-side token expiration signal.
func (b *Backend) ExpireToken() {
	b.push(wire.EventTokenExpired, wire.ErrorPayload{Code: 20104, Message: "token expired"})
}

// PushEvent pushes an arbitrary envelope, for scripting edge cases
// (stale timestamps, unknown entities, malformed payloads).
func (b *Backend) PushEvent(eventType string, payload any) {
	b.push(eventType, payload)
}

// SeverConnection simulates a network failure on the live connection.
func (b *Backend) SeverConnection() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Sever()
	}
}

// Task returns a copy of the named task's current state.
func (b *Backend) Task(sid string) (wire.TaskPayload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.tasks[sid]
	if !ok {
		return wire.TaskPayload{}, false
	}
	return *task, true
}

// Transfer returns a copy of the named transfer's current state.
func (b *Backend) Transfer(sid string) (wire.TransferPayload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	transfer, ok := b.transfers[sid]
	if !ok {
		return wire.TransferPayload{}, false
	}
	return *transfer, true
}

// TransferTargetReservation returns the sid of the reservation offered
// to the transferee of the named transfer.
func (b *Backend) TransferTargetReservation(transferSid string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transferTargets[transferSid]
}

// --- signaling side ---

func (b *Backend) acceptLoop() {
	for {
		select {
		case <-b.done:
			return
		case conn := <-b.dialer.Accepted():
			b.mu.Lock()
			b.conn = conn
			lifetime := b.tokenLifetimeMs
			b.mu.Unlock()
			b.pushTo(conn, wire.EventConnected, wire.ConnectedPayload{
				SessionSid:      "SN" + hexSid(),
				TokenLifetimeMs: lifetime,
			})
			select {
			case b.connected <- struct{}{}:
			default:
			}
		}
	}
}

func (b *Backend) push(eventType string, payload any) {
	b.mu.Lock()
	targets := make([]EventSink, 0, len(b.sinks)+1)
	if b.conn != nil {
		targets = append(targets, b.conn)
	}
	targets = append(targets, b.sinks...)
	b.mu.Unlock()
	for _, target := range targets {
		b.pushTo(target, eventType, payload)
	}
}

func (b *Backend) pushTo(sink EventSink, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("routertest: encoding %s payload: %v", eventType, err))
	}
	sink.PushEnvelope(wire.Envelope{EventType: eventType, Payload: raw})
}

// --- REST side ---

func (b *Backend) mux() *http.ServeMux {
	mux := http.NewServeMux()
	prefix := "/v1/Workspaces/{workspace}"
	mux.HandleFunc("GET "+prefix+"/Workers/{worker}", b.handleFetchWorker)
	mux.HandleFunc("GET "+prefix+"/Workers/{worker}/Activities", b.handleListActivities)
	mux.HandleFunc("GET "+prefix+"/Workers/{worker}/Channels", b.handleListChannels)
	mux.HandleFunc("GET "+prefix+"/Workers/{worker}/Reservations", b.handleListReservations)
	mux.HandleFunc("POST "+prefix+"/Workers/{worker}", b.handleUpdateWorker)
	mux.HandleFunc("POST "+prefix+"/Tasks", b.handleCreateTask)
	mux.HandleFunc("POST "+prefix+"/Tasks/{task}", b.handleUpdateTask)
	mux.HandleFunc("POST "+prefix+"/Tasks/{task}/Reservations/{reservation}", b.handleUpdateReservation)
	mux.HandleFunc("POST /v2/Workspaces/{workspace}/Tasks/{task}/Transfers", b.handleCreateTransfer)
	mux.HandleFunc("POST /v2/Workspaces/{workspace}/Tasks/{task}/Transfers/{transfer}", b.handleCancelTransfer)
	mux.HandleFunc("POST /v2/Workspaces/{workspace}/Tasks/{task}/Hold", b.handleHold)
	return mux
}

func (b *Backend) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		b.mu.Lock()
		token := b.token
		b.mu.Unlock()
		if request.Header.Get("Authorization") != "Bearer "+token {
			writeError(writer, http.StatusUnauthorized, 20003, "invalid or expired token")
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func (b *Backend) handleFetchWorker(writer http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	payload := b.worker
	b.mu.Unlock()
	writeJSON(writer, payload)
}

func (b *Backend) handleListActivities(writer http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	items := append([]wire.ActivityPayload(nil), b.activities...)
	b.mu.Unlock()
	writePage(writer, items)
}

func (b *Backend) handleListChannels(writer http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	items := append([]wire.ChannelPayload(nil), b.channels...)
	b.mu.Unlock()
	writePage(writer, items)
}

func (b *Backend) handleListReservations(writer http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	var items []wire.ReservationPayload
	for _, reservation := range b.reservations {
		if !reservation.Status.Terminal() {
			items = append(items, *b.composeReservationLocked(reservation))
		}
	}
	b.mu.Unlock()
	writePage(writer, items)
}

func (b *Backend) handleUpdateWorker(writer http.ResponseWriter, request *http.Request) {
	var update rest.WorkerUpdate
	if !decodeBody(writer, request, &update) {
		return
	}

	b.mu.Lock()
	var events []pendingEvent

	if update.ActivitySid != "" {
		activity := b.activityLocked(update.ActivitySid)
		if activity == nil {
			b.mu.Unlock()
			writeError(writer, http.StatusBadRequest, 20001, fmt.Sprintf("activity %s does not exist", update.ActivitySid))
			return
		}
		if update.RejectPendingReservations {
			for _, reservation := range b.reservations {
				if reservation.Status == wire.ReservationStatusPending {
					reservation.Status = wire.ReservationStatusRejected
					reservation.DateUpdated = b.tick()
					events = append(events, pendingEvent{wire.EventReservationRejected, *b.composeReservationLocked(reservation)})
				}
			}
		}
		now := b.tick()
		b.worker.ActivitySid = activity.Sid
		b.worker.ActivityName = activity.Name
		b.worker.Available = activity.Available
		b.worker.DateUpdated = now
		b.worker.DateStatusChanged = now
		events = append(events, pendingEvent{wire.EventWorkerActivityUpdate, b.worker})
	}

	if update.Attributes != nil {
		b.worker.Attributes = update.Attributes
		b.worker.DateUpdated = b.tick()
		events = append(events, pendingEvent{wire.EventWorkerAttributesUpdate, b.worker})
	}

	payload := b.worker
	b.mu.Unlock()

	writeJSON(writer, payload)
	b.pushAll(events)
}

func (b *Backend) handleCreateTask(writer http.ResponseWriter, request *http.Request) {
	var create rest.CreateTaskRequest
	if !decodeBody(writer, request, &create) {
		return
	}
	attributes := create.Attributes
	if attributes == nil {
		attributes = json.RawMessage(`{}`)
	}
	b.mu.Lock()
	now := b.tick()
	task := &wire.TaskPayload{
		Sid:                   "WT" + hexSid(),
		WorkspaceSid:          b.workspaceSid,
		Status:                wire.TaskStatusPending,
		Attributes:            attributes,
		WorkflowSid:           create.WorkflowSid,
		TaskChannelSid:        create.TaskChannelSid,
		TaskChannelUniqueName: create.TaskChannelUniqueName,
		DateCreated:           now,
		DateUpdated:           now,
	}
	b.tasks[task.Sid] = task
	payload := *task
	b.mu.Unlock()
	writeJSON(writer, payload)
}

func (b *Backend) handleUpdateTask(writer http.ResponseWriter, request *http.Request) {
	var update rest.TaskUpdate
	if !decodeBody(writer, request, &update) {
		return
	}
	taskSid := request.PathValue("task")

	b.mu.Lock()
	task, ok := b.tasks[taskSid]
	if !ok {
		b.mu.Unlock()
		writeError(writer, http.StatusBadRequest, 20001, fmt.Sprintf("task %s does not exist", taskSid))
		return
	}

	var events []pendingEvent
	if update.Status != "" {
		switch update.Status {
		case wire.TaskStatusWrapping:
			if task.Status != wire.TaskStatusAssigned {
				b.mu.Unlock()
				writeError(writer, http.StatusBadRequest, 20001,
					fmt.Sprintf("cannot move task %s from %s to wrapping", taskSid, task.Status))
				return
			}
		case wire.TaskStatusCompleted:
			if task.Status != wire.TaskStatusAssigned && task.Status != wire.TaskStatusWrapping {
				b.mu.Unlock()
				writeError(writer, http.StatusBadRequest, 20001,
					fmt.Sprintf("cannot complete task %s in status %s", taskSid, task.Status))
				return
			}
		default:
			b.mu.Unlock()
			writeError(writer, http.StatusBadRequest, 20001,
				fmt.Sprintf("unsupported assignment status %s", update.Status))
			return
		}
		task.Status = update.Status
		task.Reason = update.Reason
		task.DateUpdated = b.tick()
		switch update.Status {
		case wire.TaskStatusWrapping:
			events = append(events, pendingEvent{wire.EventTaskWrapup, *task})
		case wire.TaskStatusCompleted:
			events = append(events, pendingEvent{wire.EventTaskCompleted, *task})
			// Completing the task completes its live reservation too.
			for _, reservation := range b.reservations {
				if reservation.TaskSid == taskSid && !reservation.Status.Terminal() {
					reservation.Status = wire.ReservationStatusCompleted
					reservation.DateUpdated = b.tick()
					events = append(events, pendingEvent{wire.EventReservationCompleted, *b.composeReservationLocked(reservation)})
				}
			}
		}
	}
	if update.Attributes != nil {
		task.Attributes = update.Attributes
		task.DateUpdated = b.tick()
		events = append(events, pendingEvent{wire.EventTaskUpdated, *task})
	}

	payload := *task
	b.mu.Unlock()

	writeJSON(writer, payload)
	b.pushAll(events)
}

func (b *Backend) handleUpdateReservation(writer http.ResponseWriter, request *http.Request) {
	var update rest.ReservationUpdate
	if !decodeBody(writer, request, &update) {
		return
	}
	reservationSid := request.PathValue("reservation")

	b.mu.Lock()
	reservation, ok := b.reservations[reservationSid]
	if !ok {
		b.mu.Unlock()
		writeError(writer, http.StatusBadRequest, 20001, fmt.Sprintf("reservation %s does not exist", reservationSid))
		return
	}
	task := b.tasks[reservation.TaskSid]

	if update.Instruction != "" {
		b.instructions = append(b.instructions, Instruction{ReservationSid: reservationSid, Update: update})
		payload := *b.composeReservationLocked(reservation)
		b.mu.Unlock()
		writeJSON(writer, payload)
		return
	}

	var events []pendingEvent
	switch update.Status {
	case wire.ReservationStatusAccepted:
		if reservation.Status != wire.ReservationStatusPending {
			b.mu.Unlock()
			writeError(writer, http.StatusBadRequest, 20001,
				fmt.Sprintf("cannot accept reservation %s in status %s", reservationSid, reservation.Status))
			return
		}
		reservation.Status = wire.ReservationStatusAccepted
		reservation.DateUpdated = b.tick()
		if task != nil {
			task.Status = wire.TaskStatusAssigned
			task.DateUpdated = b.tick()
			events = append(events, pendingEvent{wire.EventTaskUpdated, *task})
		}
		// Accepting a transfer target completes the transfer.
		if transfer := b.incomingTransferLocked(reservationSid); transfer != nil {
			transfer.Status = wire.TransferStatusCompleted
			transfer.DateUpdated = b.tick()
			events = append(events, pendingEvent{wire.EventTransferCompleted, *transfer})
		}
		events = append(events, pendingEvent{wire.EventReservationAccepted, *b.composeReservationLocked(reservation)})

	case wire.ReservationStatusRejected:
		if reservation.Status != wire.ReservationStatusPending {
			b.mu.Unlock()
			writeError(writer, http.StatusBadRequest, 20001,
				fmt.Sprintf("cannot reject reservation %s in status %s", reservationSid, reservation.Status))
			return
		}
		reservation.Status = wire.ReservationStatusRejected
		reservation.DateUpdated = b.tick()
		events = append(events, pendingEvent{wire.EventReservationRejected, *b.composeReservationLocked(reservation)})
		// Rejecting a transfer target fails the transfer and restores
		// the original assignment.
		if transfer := b.incomingTransferLocked(reservationSid); transfer != nil {
			transfer.Status = wire.TransferStatusFailed
			transfer.DateUpdated = b.tick()
			events = append(events, pendingEvent{wire.EventTransferFailed, *transfer})
			if task != nil {
				task.Status = wire.TaskStatusAssigned
				task.DateUpdated = b.tick()
				events = append(events, pendingEvent{wire.EventTaskUpdated, *task})
			}
		}
		if update.WorkerActivitySid != "" {
			if activity := b.activityLocked(update.WorkerActivitySid); activity != nil {
				now := b.tick()
				b.worker.ActivitySid = activity.Sid
				b.worker.ActivityName = activity.Name
				b.worker.Available = activity.Available
				b.worker.DateUpdated = now
				b.worker.DateStatusChanged = now
				events = append(events, pendingEvent{wire.EventWorkerActivityUpdate, b.worker})
			}
		}

	case wire.ReservationStatusWrapping:
		if task == nil || task.Status != wire.TaskStatusWrapping {
			b.mu.Unlock()
			writeError(writer, http.StatusBadRequest, 20001,
				fmt.Sprintf("cannot wrap reservation %s before its task is wrapping", reservationSid))
			return
		}
		reservation.Status = wire.ReservationStatusWrapping
		reservation.DateUpdated = b.tick()
		events = append(events, pendingEvent{wire.EventReservationWrapup, *b.composeReservationLocked(reservation)})

	case wire.ReservationStatusCompleted:
		if task == nil || !task.Status.Terminal() {
			b.mu.Unlock()
			writeError(writer, http.StatusBadRequest, 20001,
				fmt.Sprintf("cannot complete reservation %s before its task is completed", reservationSid))
			return
		}
		reservation.Status = wire.ReservationStatusCompleted
		reservation.DateUpdated = b.tick()
		events = append(events, pendingEvent{wire.EventReservationCompleted, *b.composeReservationLocked(reservation)})

	default:
		b.mu.Unlock()
		writeError(writer, http.StatusBadRequest, 20001,
			fmt.Sprintf("unsupported reservation status %q", update.Status))
		return
	}

	payload := *b.composeReservationLocked(reservation)
	b.mu.Unlock()

	writeJSON(writer, payload)
	b.pushAll(events)
}

func (b *Backend) handleCreateTransfer(writer http.ResponseWriter, request *http.Request) {
	var create rest.CreateTransferRequest
	if !decodeBody(writer, request, &create) {
		return
	}
	taskSid := request.PathValue("task")

	b.mu.Lock()
	task, ok := b.tasks[taskSid]
	if !ok {
		b.mu.Unlock()
		writeError(writer, http.StatusBadRequest, 20001, fmt.Sprintf("task %s does not exist", taskSid))
		return
	}
	if b.unavailableWorkers[create.To] {
		b.mu.Unlock()
		writeError(writer, http.StatusBadRequest, 20429,
			fmt.Sprintf("worker %s is unavailable for transfer", create.To))
		return
	}

	transferType := wire.TransferTypeWorker
	if strings.HasPrefix(create.To, "WQ") {
		transferType = wire.TransferTypeQueue
	}
	now := b.tick()
	transfer := &wire.TransferPayload{
		Sid:                      "TT" + hexSid(),
		TaskSid:                  taskSid,
		InitiatingReservationSid: create.ReservationSid,
		InitiatingWorkerSid:      b.workerSid,
		Mode:                     create.Mode,
		Type:                     transferType,
		To:                       create.To,
		Status:                   wire.TransferStatusInitiated,
		DateCreated:              now,
		DateUpdated:              now,
	}
	b.transfers[transfer.Sid] = transfer

	task.Status = wire.TaskStatusTransferring
	task.DateUpdated = b.tick()

	// Offer the task to the transferee. The fake routes it back to the
	// same connected worker so one session can play both roles.
	targetNow := b.tick()
	target := &wire.ReservationPayload{
		Sid:          "WR" + hexSid(),
		AccountSid:   b.worker.AccountSid,
		WorkspaceSid: b.workspaceSid,
		WorkerSid:    create.To,
		TaskSid:      taskSid,
		Status:       wire.ReservationStatusPending,
		Timeout:      120,
		DateCreated:  targetNow,
		DateUpdated:  targetNow,
	}
	b.reservations[target.Sid] = target
	b.transferTargets[transfer.Sid] = target.Sid

	events := []pendingEvent{
		{wire.EventTransferInitiated, *transfer},
		{wire.EventTaskUpdated, *task},
		{wire.EventReservationCreated, *b.composeReservationLocked(target)},
	}
	payload := *transfer
	b.mu.Unlock()

	writeJSON(writer, payload)
	b.pushAll(events)
}

func (b *Backend) handleCancelTransfer(writer http.ResponseWriter, request *http.Request) {
	transferSid := request.PathValue("transfer")

	b.mu.Lock()
	transfer, ok := b.transfers[transferSid]
	if !ok {
		b.mu.Unlock()
		writeError(writer, http.StatusBadRequest, 20001, fmt.Sprintf("transfer %s does not exist", transferSid))
		return
	}
	if transfer.Status == wire.TransferStatusCanceled {
		b.mu.Unlock()
		writeError(writer, http.StatusBadRequest, 20001,
			fmt.Sprintf("transfer %s already canceled", transferSid))
		return
	}
	if transfer.Status != wire.TransferStatusInitiated {
		b.mu.Unlock()
		writeError(writer, http.StatusBadRequest, 20001,
			fmt.Sprintf("cannot cancel transfer %s in status %s", transferSid, transfer.Status))
		return
	}

	transfer.Status = wire.TransferStatusCanceled
	transfer.DateUpdated = b.tick()
	events := []pendingEvent{{wire.EventTransferCanceled, *transfer}}

	if task := b.tasks[transfer.TaskSid]; task != nil {
		task.Status = wire.TaskStatusAssigned
		task.DateUpdated = b.tick()
		events = append(events, pendingEvent{wire.EventTaskUpdated, *task})
	}
	if targetSid := b.transferTargets[transfer.Sid]; targetSid != "" {
		if target := b.reservations[targetSid]; target != nil && !target.Status.Terminal() {
			target.Status = wire.ReservationStatusCanceled
			target.DateUpdated = b.tick()
			events = append(events, pendingEvent{wire.EventReservationCanceled, *b.composeReservationLocked(target)})
		}
	}

	payload := *transfer
	b.mu.Unlock()

	writeJSON(writer, payload)
	b.pushAll(events)
}

func (b *Backend) handleHold(writer http.ResponseWriter, request *http.Request) {
	var hold rest.HoldRequest
	if !decodeBody(writer, request, &hold) {
		return
	}
	taskSid := request.PathValue("task")

	b.mu.Lock()
	set := b.participants[taskSid]
	allowed := set != nil && set[b.workerSid] && set[hold.TargetWorkerSid]
	b.mu.Unlock()

	if !allowed {
		writeError(writer, http.StatusBadRequest, 20001,
			fmt.Sprintf("worker %s is not an active conference participant of task %s", hold.TargetWorkerSid, taskSid))
		return
	}
	writeJSON(writer, map[string]bool{"hold": hold.Hold})
}

// --- internals ---

type pendingEvent struct {
	eventType string
	payload   any
}

func (b *Backend) pushAll(events []pendingEvent) {
	for _, event := range events {
		b.push(event.eventType, event.payload)
	}
}

// tick returns a strictly increasing timestamp. Callers hold b.mu.
func (b *Backend) tick() time.Time {
	b.logical++
	return b.base.Add(time.Duration(b.logical) * time.Millisecond)
}

func (b *Backend) activityLocked(sid string) *wire.ActivityPayload {
	for i := range b.activities {
		if b.activities[i].Sid == sid {
			return &b.activities[i]
		}
	}
	return nil
}

// incomingTransferLocked finds the transfer whose target reservation
// is the given one.
func (b *Backend) incomingTransferLocked(reservationSid string) *wire.TransferPayload {
	for transferSid, targetSid := range b.transferTargets {
		if targetSid == reservationSid {
			return b.transfers[transferSid]
		}
	}
	return nil
}

// composeReservationLocked embeds the task and any incoming transfer
// into a reservation payload copy.
func (b *Backend) composeReservationLocked(reservation *wire.ReservationPayload) *wire.ReservationPayload {
	composed := *reservation
	if task := b.tasks[reservation.TaskSid]; task != nil {
		taskCopy := *task
		composed.Task = &taskCopy
	}
	if transfer := b.incomingTransferLocked(reservation.Sid); transfer != nil {
		transferCopy := *transfer
		composed.Transfer = &transferCopy
	}
	return &composed
}

func hexSid() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func decodeBody(writer http.ResponseWriter, request *http.Request, target any) bool {
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		writeError(writer, http.StatusBadRequest, 20002, fmt.Sprintf("malformed request body: %v", err))
		return false
	}
	return true
}

func writeJSON(writer http.ResponseWriter, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(payload)
}

func writePage(writer http.ResponseWriter, items any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(map[string]any{
		"items": items,
		"meta":  map[string]any{"page_size": rest.DefaultPageSize},
	})
}

func writeError(writer http.ResponseWriter, status, code int, message string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(wire.ErrorPayload{Code: code, Message: message})
}
