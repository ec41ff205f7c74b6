// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"encoding/json"

	"github.com/hivedesk/hivedesk/wire"
)

// The entity store. Every mutation happens under w.mu and follows the
// same rules regardless of source (wire event, REST response seed, or
// snapshot):
//
//   - per-entity monotonic dateUpdated: a payload that would move an
//     entity's dateUpdated backward (or not forward) is a stale or
//     duplicate delivery and is discarded without effect;
//   - unknown entity references synthesize a minimal placeholder from
//     the payload instead of dropping the event;
//   - a reservation reaching a terminal status leaves the reservation
//     map in the same locked step that records the status event;
//   - public events are collected during the mutation and fired only
//     after the store is consistent again.

// reservationStatusEvents maps a reservation's new status to the
// public event name it fires. Pending fires nothing (creation is a
// separate worker-level event).
var reservationStatusEvents = map[wire.ReservationStatus]string{
	wire.ReservationStatusAccepted:  wire.ReservationAccepted,
	wire.ReservationStatusRejected:  wire.ReservationRejected,
	wire.ReservationStatusTimeout:   wire.ReservationTimeout,
	wire.ReservationStatusCanceled:  wire.ReservationCanceled,
	wire.ReservationStatusRescinded: wire.ReservationRescinded,
	wire.ReservationStatusWrapping:  wire.ReservationWrapup,
	wire.ReservationStatusCompleted: wire.ReservationCompleted,
}

// transferStatusEvents maps a transfer's new status to the public
// event name it fires when the status change arrives without an
// explicit wire event, embedded in a reservation payload. Attempt
// failures never change the status and only ever arrive as explicit
// events.
var transferStatusEvents = map[wire.TransferStatus]string{
	wire.TransferStatusInitiated: wire.TransferInitiated,
	wire.TransferStatusCompleted: wire.TransferCompleted,
	wire.TransferStatusFailed:    wire.TransferFailed,
	wire.TransferStatusCanceled:  wire.TransferCanceled,
}

// --- seed entry points (REST responses, applied optimistically) ---

func (w *Worker) applyWorkerSeed(payload *wire.WorkerPayload) {
	var em []emission
	w.mu.Lock()
	w.applyWorkerLocked(payload, &em)
	w.mu.Unlock()
	fire(em)
}

func (w *Worker) applyReservationSeed(payload *wire.ReservationPayload) {
	var em []emission
	w.mu.Lock()
	w.applyReservationLocked(false, payload, &em)
	w.mu.Unlock()
	fire(em)
}

func (w *Worker) applyTaskSeed(payload *wire.TaskPayload) {
	var em []emission
	w.mu.Lock()
	w.applyTaskLocked(payload, &em)
	w.mu.Unlock()
	fire(em)
}

func (w *Worker) applyTransferSeed(payload *wire.TransferPayload, eventName string) *Transfer {
	var em []emission
	w.mu.Lock()
	transfer := w.applyTransferLocked(payload, eventName, &em)
	w.mu.Unlock()
	fire(em)
	return transfer
}

// --- worker ---

func (w *Worker) applyWorkerLocked(payload *wire.WorkerPayload, em *[]emission) {
	if payload == nil {
		return
	}
	if !w.dateUpdated.IsZero() && !payload.DateUpdated.After(w.dateUpdated) {
		return
	}
	if !payload.DateUpdated.IsZero() {
		w.dateUpdated = payload.DateUpdated
	}
	if payload.Sid != "" {
		w.sid = payload.Sid
	}
	if payload.AccountSid != "" {
		w.accountSid = payload.AccountSid
	}
	if payload.FriendlyName != "" {
		w.name = payload.FriendlyName
	}
	if !payload.DateStatusChanged.IsZero() {
		w.dateStatusChanged = payload.DateStatusChanged
	}
	w.available = payload.Available

	if payload.Attributes != nil && !bytes.Equal(payload.Attributes, w.attributes) {
		w.attributes = append(json.RawMessage(nil), payload.Attributes...)
		attributes := w.attributes
		*em = append(*em, func() {
			w.attributesSig.emit(append(json.RawMessage(nil), attributes...))
		})
	}

	if payload.ActivitySid != "" && payload.ActivitySid != w.activitySid {
		w.setCurrentActivityLocked(payload.ActivitySid, payload.ActivityName, em)
	}
}

// setCurrentActivityLocked adopts the given activity as current,
// clearing the previous one in the same transition. An unknown sid
// synthesizes a placeholder activity.
func (w *Worker) setCurrentActivityLocked(sid, name string, em *[]emission) {
	for _, activity := range w.activities {
		activity.isCurrent = false
	}
	activity := w.activities[sid]
	if activity == nil {
		activity = &Activity{worker: w, sid: sid}
		w.activities[sid] = activity
	}
	if name != "" {
		activity.name = name
	}
	activity.isCurrent = true
	w.activitySid = sid

	current := activity
	*em = append(*em, func() { w.activitySig.emit(current) })
}

// --- channels ---

func (w *Worker) applyChannelLocked(payload *wire.ChannelPayload, em *[]emission) {
	if payload == nil || payload.Sid == "" {
		return
	}
	channel := w.channels[payload.Sid]
	if channel == nil {
		channel = &Channel{worker: w, sid: payload.Sid}
		w.channels[payload.Sid] = channel
	}
	if !channel.dateUpdated.IsZero() && !payload.DateUpdated.After(channel.dateUpdated) {
		return
	}

	oldCapacity, oldAvailable := channel.capacity, channel.available
	if payload.TaskChannelUniqueName != "" {
		channel.uniqueName = payload.TaskChannelUniqueName
	}
	channel.capacity = payload.Capacity
	channel.assignedTasks = payload.AssignedTasks
	channel.available = payload.Available
	if !payload.DateUpdated.IsZero() {
		channel.dateUpdated = payload.DateUpdated
	}

	ch := channel
	if channel.capacity != oldCapacity {
		*em = append(*em, func() { ch.capacitySig.emit(ch) })
	}
	if channel.available != oldAvailable {
		*em = append(*em, func() { ch.availabilitySig.emit(ch) })
	}
}

// --- reservations ---

func (w *Worker) applyReservationLocked(creation bool, payload *wire.ReservationPayload, em *[]emission) *Reservation {
	if payload == nil || payload.Sid == "" {
		return nil
	}
	// A reservation that already reached a terminal status stays gone;
	// late duplicates of its final events are discarded.
	if _, gone := w.removedReservations[payload.Sid]; gone {
		return nil
	}

	reservation := w.reservations[payload.Sid]
	created := false
	if reservation == nil {
		reservation = &Reservation{worker: w, sid: payload.Sid}
		created = true
	}
	if !created && !reservation.dateUpdated.IsZero() && !payload.DateUpdated.After(reservation.dateUpdated) {
		return reservation
	}
	reservation.cycle = w.loadCycle

	if payload.AccountSid != "" {
		reservation.accountSid = payload.AccountSid
	}
	if payload.WorkspaceSid != "" {
		reservation.workspaceSid = payload.WorkspaceSid
	}
	if payload.WorkerSid != "" {
		reservation.workerSid = payload.WorkerSid
	}
	if payload.Timeout != 0 {
		reservation.timeout = payload.Timeout
	}
	if payload.CanceledReasonCode != nil {
		reservation.canceledReasonCode = payload.CanceledReasonCode
	}
	if !payload.DateCreated.IsZero() {
		reservation.dateCreated = payload.DateCreated
	}
	if !payload.DateUpdated.IsZero() {
		reservation.dateUpdated = payload.DateUpdated
	}

	if payload.Task != nil {
		reservation.task = w.applyTaskLocked(payload.Task, em)
	} else if reservation.task == nil && payload.TaskSid != "" {
		reservation.task = w.ensureTaskLocked(payload.TaskSid)
	}
	if payload.Transfer != nil {
		reservation.transfer = w.applyTransferLocked(payload.Transfer, "", em)
	}

	oldStatus := reservation.status
	if payload.Status != "" {
		reservation.status = payload.Status
	}

	if created && !reservation.status.Terminal() {
		w.reservations[reservation.sid] = reservation
	}

	res := reservation
	if creation && created {
		*em = append(*em, func() { w.reservationCreatedSig.emit(res) })
	}

	if reservation.status != oldStatus {
		if name, ok := reservationStatusEvents[reservation.status]; ok {
			workerName := "reservation." + name
			*em = append(*em, func() { res.events.emit(name) })
			*em = append(*em, func() {
				w.reservationSig.emit(ReservationEvent{Name: workerName, Reservation: res})
			})
		}
	}

	if reservation.status.Terminal() {
		delete(w.reservations, reservation.sid)
		w.removedReservations[reservation.sid] = w.loadCycle
		w.pruneTasksLocked()
	}
	return reservation
}

// reservationForTaskLocked returns the sid of a live reservation
// holding the given task, or "".
func (w *Worker) reservationForTaskLocked(taskSid string) string {
	for sid, reservation := range w.reservations {
		if reservation.task != nil && reservation.task.sid == taskSid {
			return sid
		}
	}
	return ""
}

// --- tasks ---

func (w *Worker) ensureTaskLocked(sid string) *Task {
	task := w.tasks[sid]
	if task == nil {
		task = &Task{worker: w, sid: sid}
		w.tasks[sid] = task
	}
	return task
}

func (w *Worker) applyTaskLocked(payload *wire.TaskPayload, em *[]emission) *Task {
	if payload == nil || payload.Sid == "" {
		return nil
	}
	task := w.ensureTaskLocked(payload.Sid)
	if !task.dateUpdated.IsZero() && !payload.DateUpdated.After(task.dateUpdated) {
		return task
	}

	oldStatus := task.status
	if payload.WorkspaceSid != "" {
		task.workspaceSid = payload.WorkspaceSid
	}
	if payload.Status != "" {
		task.status = payload.Status
	}
	if payload.Attributes != nil {
		task.attributes = append(json.RawMessage(nil), payload.Attributes...)
	}
	task.priority = payload.Priority
	task.age = payload.Age
	if payload.Reason != "" {
		task.reason = payload.Reason
	}
	if payload.QueueSid != "" {
		task.queueSid = payload.QueueSid
		task.queueName = payload.QueueName
	}
	if payload.WorkflowSid != "" {
		task.workflowSid = payload.WorkflowSid
		task.workflowName = payload.WorkflowName
	}
	if payload.TaskChannelSid != "" {
		task.channelSid = payload.TaskChannelSid
	}
	if payload.TaskChannelUniqueName != "" {
		task.channelName = payload.TaskChannelUniqueName
	}
	if payload.Timeout != 0 {
		task.timeout = payload.Timeout
	}
	if !payload.DateCreated.IsZero() {
		task.dateCreated = payload.DateCreated
	}
	if !payload.DateUpdated.IsZero() {
		task.dateUpdated = payload.DateUpdated
	}

	name := wire.TaskUpdated
	if task.status != oldStatus {
		switch task.status {
		case wire.TaskStatusCanceled:
			name = wire.TaskCanceled
		case wire.TaskStatusCompleted:
			name = wire.TaskCompleted
		case wire.TaskStatusWrapping:
			name = wire.TaskWrapup
		}
	}
	tk, event := task, name
	*em = append(*em, func() { tk.events.emit(event) })
	return task
}

// pruneTasksLocked drops tasks no live reservation references. The
// task index exists to share one Task instance across reservations and
// to park placeholders for early-arriving task events; once nothing
// references a task it has no observer left.
func (w *Worker) pruneTasksLocked() {
	referenced := make(map[string]bool, len(w.reservations))
	for _, reservation := range w.reservations {
		if reservation.task != nil {
			referenced[reservation.task.sid] = true
		}
	}
	for sid := range w.tasks {
		if !referenced[sid] {
			delete(w.tasks, sid)
		}
	}
}

// --- transfers ---

func (w *Worker) applyTransferLocked(payload *wire.TransferPayload, eventName string, em *[]emission) *Transfer {
	if payload == nil || payload.Sid == "" {
		return nil
	}
	var task *Task
	if payload.TaskSid != "" {
		task = w.ensureTaskLocked(payload.TaskSid)
	}

	var transfer *Transfer
	oldStatus := wire.TransferStatus("")
	if task != nil {
		if task.incoming != nil && task.incoming.sid == payload.Sid {
			transfer = task.incoming
		}
		if task.outgoing != nil && task.outgoing.sid == payload.Sid {
			transfer = task.outgoing
		}
	}
	created := false
	if transfer == nil {
		transfer = &Transfer{worker: w, sid: payload.Sid}
		created = true
	}
	if !created && !transfer.dateUpdated.IsZero() && !payload.DateUpdated.After(transfer.dateUpdated) {
		return transfer
	}
	if !created {
		oldStatus = transfer.status
	}

	if payload.TaskSid != "" {
		transfer.taskSid = payload.TaskSid
	}
	if payload.Mode != "" {
		transfer.mode = payload.Mode
	}
	if payload.Type != "" {
		transfer.transferType = payload.Type
	}
	if payload.To != "" {
		transfer.to = payload.To
	}
	if payload.Status != "" {
		transfer.status = payload.Status
	}
	if payload.InitiatingReservationSid != "" {
		transfer.initiatingReservationSid = payload.InitiatingReservationSid
	}
	if payload.InitiatingWorkerSid != "" {
		transfer.initiatingWorkerSid = payload.InitiatingWorkerSid
	}
	if payload.InitiatingQueueSid != "" {
		transfer.initiatingQueueSid = payload.InitiatingQueueSid
	}
	if !payload.DateCreated.IsZero() {
		transfer.dateCreated = payload.DateCreated
	}
	if !payload.DateUpdated.IsZero() {
		transfer.dateUpdated = payload.DateUpdated
	}

	if task != nil {
		if transfer.initiatingWorkerSid == w.sid {
			task.outgoing = transfer
		} else {
			task.incoming = transfer
		}
	}

	if eventName == "" && transfer.status != oldStatus {
		eventName = transferStatusEvents[transfer.status]
	}
	if eventName != "" {
		tr := transfer
		*em = append(*em, func() { tr.events.emit(eventName) })
		if task != nil {
			tk := task
			*em = append(*em, func() { tk.events.emit(eventName) })
		}
	}
	return transfer
}

// --- snapshot ---

// beginSnapshotCycle marks the start of a snapshot load. Reservations
// applied from this point on are newer than anything the snapshot can
// report and must survive its reconciliation.
func (w *Worker) beginSnapshotCycle() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loadCycle++
	return w.loadCycle
}

// applySnapshot rebuilds the entity graph from a fresh server
// snapshot. Existing instances are kept and updated in place so that
// references held by the caller stay valid across a reconnect.
//
// The snapshot fetch runs concurrently with wire dispatch, so absence
// from the snapshot is only authoritative for reservations untouched
// since the fetch began: those reached a terminal status while
// disconnected and are dropped. A reservation created or updated
// during the fetch postdates the snapshot and is kept; likewise a
// tombstone from the current cycle outranks a stale snapshot listing.
func (w *Worker) applySnapshot(cycle uint64, workerPayload *wire.WorkerPayload,
	activities []wire.ActivityPayload,
	channels []wire.ChannelPayload,
	reservations []wire.ReservationPayload) {

	var em []emission
	w.mu.Lock()

	for i := range activities {
		payload := &activities[i]
		activity := w.activities[payload.Sid]
		if activity == nil {
			activity = &Activity{worker: w, sid: payload.Sid}
			w.activities[payload.Sid] = activity
		}
		activity.name = payload.Name
		activity.available = payload.Available
		activity.dateUpdated = payload.DateUpdated
	}

	w.applyWorkerLocked(workerPayload, &em)

	for i := range channels {
		w.applyChannelLocked(&channels[i], &em)
	}

	for sid, removedCycle := range w.removedReservations {
		if removedCycle < cycle {
			delete(w.removedReservations, sid)
		}
	}
	present := make(map[string]bool, len(reservations))
	for i := range reservations {
		present[reservations[i].Sid] = true
		w.applyReservationLocked(false, &reservations[i], &em)
	}
	for sid, reservation := range w.reservations {
		if !present[sid] && reservation.cycle < cycle {
			delete(w.reservations, sid)
			w.removedReservations[sid] = cycle
		}
	}
	w.pruneTasksLocked()

	w.ready = true
	w.mu.Unlock()

	fire(em)
	w.readySig.emit(struct{}{})
}
