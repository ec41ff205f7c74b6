// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// Control event types consumed by the signaling layer itself. They
// manage the connection and never reach the entity router.
const (
	// EventConnected is the server hello after a successful websocket
	// upgrade. The worker fetches its state snapshot when it arrives.
	EventConnected = "connected"

	// EventError reports a fatal server-side session error.
	EventError = "error"

	// EventTokenExpired signals that the bearer token used for the
	// current session has passed its lifetime. The channel stops
	// reconnecting until a fresh token is supplied.
	EventTokenExpired = "worker.token.expired"
)

// Worker-scoped entity event types.
const (
	EventWorkerActivityUpdate      = "worker.activity.update"
	EventWorkerAttributesUpdate    = "worker.attributes.update"
	EventWorkerCapacityUpdate      = "worker.capacity.update"
	EventWorkerChannelAvailability = "worker.channel.availability.update"
)

// Reservation wire event codes.
const (
	EventReservationCreated   = "reservation.created"
	EventReservationAccepted  = "reservation.accepted"
	EventReservationRejected  = "reservation.rejected"
	EventReservationTimeout   = "reservation.timeout"
	EventReservationCanceled  = "reservation.canceled"
	EventReservationRescinded = "reservation.rescinded"
	EventReservationCompleted = "reservation.completed"
	EventReservationWrapup    = "reservation.wrapup"
)

// Task wire event codes.
const (
	EventTaskUpdated   = "task.updated"
	EventTaskCanceled  = "task.canceled"
	EventTaskCompleted = "task.completed"
	EventTaskWrapup    = "task.wrapup"
)

// Transfer wire event codes. The hyphenated names are the backend's;
// TransferEvents maps them to the camel-cased public names.
const (
	EventTransferInitiated     = "task.transfer-initiated"
	EventTransferCompleted     = "task.transfer-completed"
	EventTransferFailed        = "task.transfer-failed"
	EventTransferAttemptFailed = "task.transfer-attempt-failed"
	EventTransferCanceled      = "task.transfer-canceled"
)

// Public event names emitted on Reservation.
const (
	ReservationAccepted  = "accepted"
	ReservationRejected  = "rejected"
	ReservationTimeout   = "timeout"
	ReservationCanceled  = "canceled"
	ReservationRescinded = "rescinded"
	ReservationCompleted = "completed"
	ReservationWrapup    = "wrapup"
)

// Public event names emitted on Task.
const (
	TaskUpdated   = "updated"
	TaskCanceled  = "canceled"
	TaskCompleted = "completed"
	TaskWrapup    = "wrapup"
)

// Public event names for transfers, emitted on Transfer and Task.
const (
	TransferInitiated     = "transferInitiated"
	TransferCompleted     = "transferCompleted"
	TransferFailed        = "transferFailed"
	TransferAttemptFailed = "transferAttemptFailed"
	TransferCanceled      = "transferCanceled"
)

// ReservationEvents maps reservation wire event codes to the public
// event names emitted on Reservation.
var ReservationEvents = map[string]string{
	EventReservationAccepted:  ReservationAccepted,
	EventReservationRejected:  ReservationRejected,
	EventReservationTimeout:   ReservationTimeout,
	EventReservationCanceled:  ReservationCanceled,
	EventReservationRescinded: ReservationRescinded,
	EventReservationCompleted: ReservationCompleted,
	EventReservationWrapup:    ReservationWrapup,
}

// ReservationEventCodes is the reverse of ReservationEvents: public
// reservation event name to wire code.
var ReservationEventCodes = reverse(ReservationEvents)

// WorkerReservationEvents re-exposes reservation status changes at the
// worker level with a "reservation." prefix, for callers that want
// coarser-grained subscription than per-reservation handlers.
var WorkerReservationEvents = map[string]string{
	EventReservationAccepted:  "reservation.accepted",
	EventReservationRejected:  "reservation.rejected",
	EventReservationTimeout:   "reservation.timeout",
	EventReservationCanceled:  "reservation.canceled",
	EventReservationRescinded: "reservation.rescinded",
	EventReservationCompleted: "reservation.completed",
	EventReservationWrapup:    "reservation.wrapup",
}

// TaskEvents maps task wire event codes to the public event names
// emitted on Task.
var TaskEvents = map[string]string{
	EventTaskUpdated:   TaskUpdated,
	EventTaskCanceled:  TaskCanceled,
	EventTaskCompleted: TaskCompleted,
	EventTaskWrapup:    TaskWrapup,
}

// TaskEventCodes is the reverse of TaskEvents.
var TaskEventCodes = reverse(TaskEvents)

// TransferEvents maps the backend's hyphenated transfer event codes to
// the camel-cased public names emitted on Transfer and Task.
var TransferEvents = map[string]string{
	EventTransferInitiated:     TransferInitiated,
	EventTransferCompleted:     TransferCompleted,
	EventTransferFailed:        TransferFailed,
	EventTransferAttemptFailed: TransferAttemptFailed,
	EventTransferCanceled:      TransferCanceled,
}

// TransferEventCodes is the reverse of TransferEvents.
var TransferEventCodes = reverse(TransferEvents)

func reverse(table map[string]string) map[string]string {
	out := make(map[string]string, len(table))
	for code, name := range table {
		out[name] = code
	}
	return out
}
