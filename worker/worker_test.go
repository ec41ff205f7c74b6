// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hivedesk/hivedesk/lib/testutil"
	"github.com/hivedesk/hivedesk/rest"
	"github.com/hivedesk/hivedesk/routertest"
	"github.com/hivedesk/hivedesk/wire"
)

const (
	waitTime = 5 * time.Second
	quiet    = 100 * time.Millisecond
)

func newSession(t *testing.T, options routertest.Options) (*routertest.Backend, *Worker) {
	t.Helper()
	backend := routertest.New(options)
	t.Cleanup(backend.Close)

	w, err := New(context.Background(), Config{
		Token:        backend.Token(),
		WorkspaceSid: backend.WorkspaceSid(),
		WorkerSid:    backend.WorkerSid(),
		RESTBaseURL:  backend.RESTBaseURL(),
		EventsURL:    backend.EventsURL(),
		Dialer:       backend.Dialer(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("creating worker: %v", err)
	}
	t.Cleanup(func() { w.Disconnect("test over") })
	return backend, w
}

// waitReady blocks until a snapshot has been applied. Subscribing
// before checking IsReady closes the race with a snapshot that lands
// in between.
func waitReady(t *testing.T, w *Worker) {
	t.Helper()
	ready := w.Ready()
	if w.IsReady() {
		return
	}
	testutil.RequireReceive(t, ready, waitTime, "waiting for state snapshot")
}

// offerReservation pushes a task offer and returns the reservation as
// delivered to the creation subscription.
func offerReservation(t *testing.T, backend *routertest.Backend, w *Worker, creations <-chan *Reservation) *Reservation {
	t.Helper()
	sid, _ := backend.OfferTask(json.RawMessage(`{"channel":"voice"}`))
	reservation := testutil.RequireReceive(t, creations, waitTime, "waiting for reservation offer")
	if reservation.Sid() != sid {
		t.Fatalf("offered reservation %s, creation event delivered %s", sid, reservation.Sid())
	}
	return reservation
}

func TestSnapshotPopulatesWorkerState(t *testing.T) {
	backend, w := newSession(t, routertest.Options{
		WorkerName: "alice",
		Activities: []routertest.ActivitySeed{
			{Sid: "WA0ffline", Name: "Offline", Available: false},
			{Sid: "WAavail", Name: "Available", Available: true},
		},
		InitialActivitySid: "WAavail",
		Channels: []routertest.ChannelSeed{
			{UniqueName: "voice", Capacity: 1},
			{UniqueName: "chat", Capacity: 3},
		},
	})
	waitReady(t, w)

	if w.Name() != "alice" {
		t.Fatalf("worker name = %q, want alice", w.Name())
	}
	if w.Sid() != backend.WorkerSid() {
		t.Fatalf("worker sid = %q, want %q", w.Sid(), backend.WorkerSid())
	}
	if len(w.Activities()) != 2 {
		t.Fatalf("got %d activities, want 2", len(w.Activities()))
	}
	if len(w.Channels()) != 2 {
		t.Fatalf("got %d channels, want 2", len(w.Channels()))
	}
	if len(w.Reservations()) != 0 {
		t.Fatalf("got %d reservations, want none", len(w.Reservations()))
	}

	current := w.CurrentActivity()
	if current == nil || current.Sid() != "WAavail" {
		t.Fatalf("current activity = %v, want WAavail", current)
	}
	if !w.Available() {
		t.Fatal("worker should be available in the Available activity")
	}

	currents := 0
	for _, activity := range w.Activities() {
		if activity.IsCurrent() {
			currents++
		}
	}
	if currents != 1 {
		t.Fatalf("%d activities flagged current, want exactly 1", currents)
	}
}

func TestReservationOfferAndAccept(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	updates := w.ReservationUpdates()
	reservation := offerReservation(t, backend, w, creations)

	if reservation.Status() != wire.ReservationStatusPending {
		t.Fatalf("offered reservation status = %s, want pending", reservation.Status())
	}
	task := reservation.Task()
	if task == nil {
		t.Fatal("offered reservation carries no task")
	}
	if !bytes.Contains(task.Attributes(), []byte("voice")) {
		t.Fatalf("task attributes %s missing offer content", task.Attributes())
	}
	if w.Reservations()[reservation.Sid()] != reservation {
		t.Fatal("reservation map does not hold the delivered instance")
	}

	events := reservation.Events()
	accepted, err := reservation.Accept(context.Background())
	if err != nil {
		t.Fatalf("accepting reservation: %v", err)
	}
	if accepted != reservation {
		t.Fatal("Accept returned a different instance than the creation event delivered")
	}
	if reservation.Status() != wire.ReservationStatusAccepted {
		t.Fatalf("reservation status = %s after accept", reservation.Status())
	}
	if task.Status() != wire.TaskStatusAssigned {
		t.Fatalf("task status = %s after accept, want assigned", task.Status())
	}

	if name := testutil.RequireReceive(t, events, waitTime, "reservation event"); name != "accepted" {
		t.Fatalf("reservation event = %q, want accepted", name)
	}
	update := testutil.RequireReceive(t, updates, waitTime, "worker-level reservation event")
	if update.Name != "reservation.accepted" || update.Reservation != reservation {
		t.Fatalf("worker-level event = %+v", update)
	}

	// The backend echoes the accept over the event stream with the same
	// timestamp; that duplicate must not fire a second event.
	testutil.RequireNoReceive(t, events, quiet, "duplicate accepted event")
}

func TestAcceptRequiresPendingReservation(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)

	if _, err := reservation.Accept(context.Background()); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := reservation.Accept(context.Background()); err == nil {
		t.Fatal("second accept should fail")
	} else if !strings.Contains(err.Error(), "cannot accept") {
		t.Fatalf("second accept error = %v", err)
	}
}

func TestRejectRemovesReservationAndAdoptsActivity(t *testing.T) {
	backend, w := newSession(t, routertest.Options{
		Activities: []routertest.ActivitySeed{
			{Sid: "WAoffline", Name: "Offline", Available: false},
			{Sid: "WAbreak", Name: "Break", Available: false},
		},
		InitialActivitySid: "WAoffline",
	})
	waitReady(t, w)

	creations := w.ReservationCreations()
	activityUpdates := w.ActivityUpdates()
	reservation := offerReservation(t, backend, w, creations)
	events := reservation.Events()

	if err := reservation.Reject(context.Background(), RejectOptions{ActivitySid: "WAbreak"}); err != nil {
		t.Fatalf("rejecting reservation: %v", err)
	}

	if name := testutil.RequireReceive(t, events, waitTime, "reject event"); name != "rejected" {
		t.Fatalf("reservation event = %q, want rejected", name)
	}
	// Terminal status removes the reservation in the same step that
	// fires the event.
	if _, live := w.Reservations()[reservation.Sid()]; live {
		t.Fatal("rejected reservation still in the reservation map")
	}

	activity := testutil.RequireReceive(t, activityUpdates, waitTime, "post-reject activity")
	if activity.Sid() != "WAbreak" {
		t.Fatalf("adopted activity = %s, want WAbreak", activity.Sid())
	}
}

func TestRejectPendingReservationsOnActivityChange(t *testing.T) {
	backend, w := newSession(t, routertest.Options{
		Activities: []routertest.ActivitySeed{
			{Sid: "WAavail", Name: "Available", Available: true},
			{Sid: "WAoffline", Name: "Offline", Available: false},
		},
		InitialActivitySid: "WAavail",
	})
	waitReady(t, w)

	creations := w.ReservationCreations()
	updates := w.ReservationUpdates()
	first := offerReservation(t, backend, w, creations)
	second := offerReservation(t, backend, w, creations)

	activity, err := w.SetActivity(context.Background(), "WAoffline", true)
	if err != nil {
		t.Fatalf("setting activity: %v", err)
	}
	if activity.Sid() != "WAoffline" {
		t.Fatalf("SetActivity returned %s, want WAoffline", activity.Sid())
	}

	rejected := map[string]bool{}
	for i := 0; i < 2; i++ {
		update := testutil.RequireReceive(t, updates, waitTime, "bulk reject event")
		if update.Name != "reservation.rejected" {
			t.Fatalf("event %d = %q, want reservation.rejected", i, update.Name)
		}
		rejected[update.Reservation.Sid()] = true
	}
	if !rejected[first.Sid()] || !rejected[second.Sid()] {
		t.Fatalf("rejected %v, want both %s and %s", rejected, first.Sid(), second.Sid())
	}
	if len(w.Reservations()) != 0 {
		t.Fatalf("%d reservations left after bulk reject", len(w.Reservations()))
	}
}

func TestSetActivityRejectsUnknownSid(t *testing.T) {
	_, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	_, err := w.SetActivity(context.Background(), "WAnope", false)
	if err == nil {
		t.Fatal("unknown activity sid should fail")
	}
	var routerErr *rest.RouterError
	if !errors.As(err, &routerErr) {
		t.Fatalf("error %v is not a RouterError", err)
	}
}

func TestSetAttributes(t *testing.T) {
	_, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	if err := w.SetAttributes(context.Background(), json.RawMessage(`["not","an","object"]`)); err == nil {
		t.Fatal("non-object attributes should fail validation")
	}
	if err := w.SetAttributes(context.Background(), nil); err == nil {
		t.Fatal("missing attributes should fail validation")
	}

	attributeUpdates := w.AttributeUpdates()
	doc := json.RawMessage(`{"skills":["voice","chat"]}`)
	if err := w.SetAttributes(context.Background(), doc); err != nil {
		t.Fatalf("setting attributes: %v", err)
	}
	got := testutil.RequireReceive(t, attributeUpdates, waitTime, "attribute update")
	if !bytes.Equal(got, doc) {
		t.Fatalf("attribute update = %s, want %s", got, doc)
	}
	if !bytes.Equal(w.Attributes(), doc) {
		t.Fatalf("worker attributes = %s, want %s", w.Attributes(), doc)
	}
}

func TestTaskWrapupAndCompleteLifecycle(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	updates := w.ReservationUpdates()
	reservation := offerReservation(t, backend, w, creations)
	task := reservation.Task()

	if _, err := reservation.Accept(context.Background()); err != nil {
		t.Fatalf("accepting: %v", err)
	}
	testutil.RequireReceive(t, updates, waitTime, "accept event")

	taskEvents := task.Events()
	reservationEvents := reservation.Events()

	if err := task.Wrapup(context.Background(), "customer on hold"); err != nil {
		t.Fatalf("wrapping task: %v", err)
	}
	if name := testutil.RequireReceive(t, taskEvents, waitTime, "task wrapup event"); name != "wrapup" {
		t.Fatalf("task event = %q, want wrapup", name)
	}
	if task.Reason() != "customer on hold" {
		t.Fatalf("task reason = %q", task.Reason())
	}

	if err := reservation.Wrap(context.Background()); err != nil {
		t.Fatalf("wrapping reservation: %v", err)
	}
	if name := testutil.RequireReceive(t, reservationEvents, waitTime, "reservation wrapup"); name != "wrapup" {
		t.Fatalf("reservation event = %q, want wrapup", name)
	}

	if err := task.Complete(context.Background(), "resolved"); err != nil {
		t.Fatalf("completing task: %v", err)
	}
	if name := testutil.RequireReceive(t, taskEvents, waitTime, "task completed"); name != "completed" {
		t.Fatalf("task event = %q, want completed", name)
	}
	// The backend completes the reservation with the task; the event
	// arrives over the stream and removes it from the map.
	if name := testutil.RequireReceive(t, reservationEvents, waitTime, "reservation completed"); name != "completed" {
		t.Fatalf("reservation event = %q, want completed", name)
	}
	if len(w.Reservations()) != 0 {
		t.Fatalf("%d reservations left after completion", len(w.Reservations()))
	}
}

func TestTaskCompleteBeforeAssignmentSurfacesBackendError(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)

	err := reservation.Task().Complete(context.Background(), "premature")
	if err == nil {
		t.Fatal("completing an unassigned task should fail")
	}
	var routerErr *rest.RouterError
	if !errors.As(err, &routerErr) {
		t.Fatalf("error %v is not a RouterError", err)
	}
}

func TestTransferLifecycle(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)
	task := reservation.Task()
	if _, err := reservation.Accept(context.Background()); err != nil {
		t.Fatalf("accepting: %v", err)
	}

	transfer, err := task.Transfer(context.Background(), "WKcolleague", TransferOptions{})
	if err != nil {
		t.Fatalf("transferring task: %v", err)
	}
	if transfer.Status() != wire.TransferStatusInitiated {
		t.Fatalf("transfer status = %s, want initiated", transfer.Status())
	}
	if transfer.Mode() != wire.TransferModeCold {
		t.Fatalf("transfer mode = %s, want COLD default", transfer.Mode())
	}
	if transfer.Type() != wire.TransferTypeWorker {
		t.Fatalf("transfer type = %s, want WORKER", transfer.Type())
	}
	if task.Transfers().Outgoing != transfer {
		t.Fatal("task does not hold the returned transfer as outgoing")
	}

	// The fake routes the transferee reservation back to this session.
	target := testutil.RequireReceive(t, creations, waitTime, "transferee reservation")
	if target.Transfer() != transfer {
		t.Fatal("transferee reservation does not share the transfer instance")
	}
	if target.Task() != task {
		t.Fatal("transferee reservation does not share the task instance")
	}

	transferEvents := transfer.Events()
	if err := target.Reject(context.Background(), RejectOptions{}); err != nil {
		t.Fatalf("rejecting transferee reservation: %v", err)
	}
	if name := testutil.RequireReceive(t, transferEvents, waitTime, "transfer outcome"); name != "transferFailed" {
		t.Fatalf("transfer event = %q, want transferFailed", name)
	}
	if transfer.Status() != wire.TransferStatusFailed {
		t.Fatalf("transfer status = %s, want failed", transfer.Status())
	}
	// A failed transfer restores the original assignment.
	if task.Status() != wire.TaskStatusAssigned {
		t.Fatalf("task status = %s after failed transfer, want assigned", task.Status())
	}
}

func TestTransferCancelIsValidExactlyOnce(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)
	task := reservation.Task()
	if _, err := reservation.Accept(context.Background()); err != nil {
		t.Fatalf("accepting: %v", err)
	}
	transfer, err := task.Transfer(context.Background(), "WKcolleague", TransferOptions{})
	if err != nil {
		t.Fatalf("transferring: %v", err)
	}
	target := testutil.RequireReceive(t, creations, waitTime, "transferee reservation")
	targetEvents := target.Events()

	if err := transfer.Cancel(context.Background()); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if transfer.Status() != wire.TransferStatusCanceled {
		t.Fatalf("transfer status = %s, want canceled", transfer.Status())
	}
	if name := testutil.RequireReceive(t, targetEvents, waitTime, "transferee outcome"); name != "canceled" {
		t.Fatalf("transferee event = %q, want canceled", name)
	}

	err = transfer.Cancel(context.Background())
	if err == nil {
		t.Fatal("second cancel should surface the backend rejection")
	}
	if !strings.Contains(err.Error(), "already canceled") {
		t.Fatalf("second cancel error = %v", err)
	}
}

func TestTransferToUnavailableWorker(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)
	backend.SetWorkerUnavailable("WKbusy")

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)
	task := reservation.Task()
	if _, err := reservation.Accept(context.Background()); err != nil {
		t.Fatalf("accepting: %v", err)
	}

	if _, err := task.Transfer(context.Background(), "WKbusy", TransferOptions{}); err == nil {
		t.Fatal("transfer to an unavailable worker should fail")
	}
	if task.Transfers().Outgoing != nil {
		t.Fatal("failed transfer request left an outgoing transfer behind")
	}
}

func TestTransferRequiresAssignedTask(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)

	_, err := reservation.Task().Transfer(context.Background(), "WKcolleague", TransferOptions{})
	if err == nil {
		t.Fatal("transferring an unassigned task should fail")
	}
	if !strings.Contains(err.Error(), "assigned") {
		t.Fatalf("transfer error = %v", err)
	}
}

func TestHoldRequiresConferenceParticipants(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)
	task := reservation.Task()
	if _, err := reservation.Accept(context.Background()); err != nil {
		t.Fatalf("accepting: %v", err)
	}

	if err := task.Hold(context.Background(), "WKother", true); err == nil {
		t.Fatal("hold outside a conference should fail")
	}

	backend.AddConferenceParticipants(task.Sid(), backend.WorkerSid(), "WKother")
	if err := task.Hold(context.Background(), "WKother", true); err != nil {
		t.Fatalf("hold between participants: %v", err)
	}
	if err := task.Hold(context.Background(), "WKother", false); err != nil {
		t.Fatalf("unhold between participants: %v", err)
	}
}

func TestConferenceInstructionReachesBackend(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)
	if _, err := reservation.Accept(context.Background()); err != nil {
		t.Fatalf("accepting: %v", err)
	}

	err := reservation.Conference(context.Background(), ConferenceOptions{
		From:                "+15550100",
		EndConferenceOnExit: true,
	})
	if err != nil {
		t.Fatalf("issuing conference instruction: %v", err)
	}

	instructions := backend.Instructions()
	if len(instructions) != 1 {
		t.Fatalf("backend recorded %d instructions, want 1", len(instructions))
	}
	got := instructions[0]
	if got.ReservationSid != reservation.Sid() {
		t.Fatalf("instruction targeted %s, want %s", got.ReservationSid, reservation.Sid())
	}
	if got.Update.Instruction != rest.InstructionConference || !got.Update.EndConferenceOnExit {
		t.Fatalf("instruction payload = %+v", got.Update)
	}
}

func TestStaleEventIsDiscarded(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)
	events := reservation.Events()

	// Replay the offer with an acceptance carrying the same timestamp:
	// a duplicate delivery, not fresh state.
	backend.PushEvent(wire.EventReservationAccepted, wire.ReservationPayload{
		Sid:         reservation.Sid(),
		Status:      wire.ReservationStatusAccepted,
		DateUpdated: reservation.DateUpdated(),
	})

	testutil.RequireNoReceive(t, events, quiet, "stale event fired")
	if reservation.Status() != wire.ReservationStatusPending {
		t.Fatalf("stale event mutated status to %s", reservation.Status())
	}
}

func TestUnknownReservationSynthesizesPlaceholder(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	updates := w.ReservationUpdates()
	backend.PushEvent(wire.EventReservationAccepted, wire.ReservationPayload{
		Sid:         "WRsurprise",
		TaskSid:     "WTsurprise",
		Status:      wire.ReservationStatusAccepted,
		DateUpdated: time.Now().UTC(),
	})

	update := testutil.RequireReceive(t, updates, waitTime, "placeholder event")
	if update.Name != "reservation.accepted" {
		t.Fatalf("event = %q, want reservation.accepted", update.Name)
	}
	if update.Reservation.Sid() != "WRsurprise" {
		t.Fatalf("placeholder sid = %s", update.Reservation.Sid())
	}
	if w.Reservations()["WRsurprise"] != update.Reservation {
		t.Fatal("placeholder not inserted into the reservation map")
	}
}

func TestCreateTask(t *testing.T) {
	_, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	sid, err := w.CreateTask(context.Background(), CreateTaskOptions{
		WorkflowSid: "WWoutbound",
		Attributes:  json.RawMessage(`{"direction":"outbound"}`),
	})
	if err != nil {
		t.Fatalf("creating task: %v", err)
	}
	if !strings.HasPrefix(sid, "WT") {
		t.Fatalf("task sid = %q", sid)
	}
	// The created task is not routed to this worker; it must not leak
	// into the local graph.
	if len(w.Reservations()) != 0 {
		t.Fatalf("%d reservations appeared from a bare task creation", len(w.Reservations()))
	}

	_, err = w.CreateTask(context.Background(), CreateTaskOptions{
		TaskChannelUniqueName: "voice",
		TaskChannelSid:        "TCvoice",
	})
	if err == nil {
		t.Fatal("both channel name and sid should be rejected")
	}
}

func TestNetworkDropReconnectsAndKeepsInstances(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	creations := w.ReservationCreations()
	reservation := offerReservation(t, backend, w, creations)

	ready := w.Ready()
	disconnects := w.Disconnects()
	backend.SeverConnection()

	event := testutil.RequireReceive(t, disconnects, waitTime, "disconnect event")
	if event.Deliberate {
		t.Fatal("network drop reported as deliberate")
	}
	testutil.RequireReceive(t, ready, waitTime, "post-reconnect snapshot")

	// References held across the reconnect stay valid: the snapshot
	// updates the existing instance instead of replacing it.
	if w.Reservations()[reservation.Sid()] != reservation {
		t.Fatal("reconnect snapshot replaced the reservation instance")
	}
	if !w.IsReady() {
		t.Fatal("worker not ready after reconnect")
	}
}

func TestTokenLifecycle(t *testing.T) {
	backend, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	ready := w.Ready()
	expirations := w.TokenExpirations()
	tokenUpdates := w.TokenUpdates()
	disconnects := w.Disconnects()

	backend.ExpireToken()
	testutil.RequireReceive(t, expirations, waitTime, "token expiration")
	event := testutil.RequireReceive(t, disconnects, waitTime, "post-expiry disconnect")
	if event.Deliberate {
		t.Fatal("token expiry disconnect reported as deliberate")
	}

	backend.SetToken("rotated-token")
	if err := w.UpdateToken("rotated-token"); err != nil {
		t.Fatalf("updating token: %v", err)
	}
	testutil.RequireReceive(t, tokenUpdates, waitTime, "token update event")
	testutil.RequireReceive(t, ready, waitTime, "post-rotation snapshot")

	// A fresh token must not trail a spurious second expiration.
	testutil.RequireNoReceive(t, expirations, quiet, "spurious expiration after rotation")

	if err := w.UpdateToken(""); err == nil {
		t.Fatal("empty token should be rejected")
	}
}

func TestDeliberateDisconnect(t *testing.T) {
	_, w := newSession(t, routertest.Options{})
	waitReady(t, w)

	disconnects := w.Disconnects()
	w.Disconnect("shift ended")

	event := testutil.RequireReceive(t, disconnects, waitTime, "final disconnect")
	if !event.Deliberate {
		t.Fatal("caller-initiated disconnect not marked deliberate")
	}
	if event.Reason != "shift ended" {
		t.Fatalf("disconnect reason = %q", event.Reason)
	}
}
