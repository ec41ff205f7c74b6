// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusAccepted  ReservationStatus = "accepted"
	ReservationStatusRejected  ReservationStatus = "rejected"
	ReservationStatusTimeout   ReservationStatus = "timeout"
	ReservationStatusCanceled  ReservationStatus = "canceled"
	ReservationStatusRescinded ReservationStatus = "rescinded"
	ReservationStatusWrapping  ReservationStatus = "wrapping"
	ReservationStatusCompleted ReservationStatus = "completed"
)

// Terminal reports whether the status ends the reservation's life.
// A terminal transition removes the reservation from the worker's
// reservation map in the same step that fires the status event.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationStatusRejected, ReservationStatusTimeout,
		ReservationStatusCanceled, ReservationStatusRescinded,
		ReservationStatusCompleted:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusReserved     TaskStatus = "reserved"
	TaskStatusAssigned     TaskStatus = "assigned"
	TaskStatusWrapping     TaskStatus = "wrapping"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusCanceled     TaskStatus = "canceled"
	TaskStatusTransferring TaskStatus = "transferring"
)

// Terminal reports whether the status ends the task's life.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCanceled
}

// TransferStatus is the lifecycle state of a transfer. An
// attempt-failed wire event does not change the status — the transfer
// as a whole remains initiated while the backend retries.
type TransferStatus string

const (
	TransferStatusInitiated TransferStatus = "initiated"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
	TransferStatusCanceled  TransferStatus = "canceled"
)

// TransferMode distinguishes cold handoffs (no shared context) from
// warm handoffs (live consultation before the handoff).
type TransferMode string

const (
	TransferModeCold TransferMode = "COLD"
	TransferModeWarm TransferMode = "WARM"
)

// TransferType is the kind of transfer target.
type TransferType string

const (
	TransferTypeWorker TransferType = "WORKER"
	TransferTypeQueue  TransferType = "QUEUE"
)

// WorkerPayload describes the connected worker.
type WorkerPayload struct {
	Sid               string          `json:"sid"`
	AccountSid        string          `json:"account_sid"`
	WorkspaceSid      string          `json:"workspace_sid"`
	FriendlyName      string          `json:"friendly_name"`
	Attributes        json.RawMessage `json:"attributes"`
	ActivitySid       string          `json:"activity_sid"`
	ActivityName      string          `json:"activity_name"`
	Available         bool            `json:"available"`
	DateUpdated       time.Time       `json:"date_updated"`
	DateStatusChanged time.Time       `json:"date_status_changed"`
}

// ActivityPayload describes a named presence state.
type ActivityPayload struct {
	Sid          string    `json:"sid"`
	WorkspaceSid string    `json:"workspace_sid"`
	Name         string    `json:"friendly_name"`
	Available    bool      `json:"available"`
	DateUpdated  time.Time `json:"date_updated"`
}

// ChannelPayload describes per task-type capacity on a worker.
type ChannelPayload struct {
	Sid                   string    `json:"sid"`
	WorkerSid             string    `json:"worker_sid"`
	TaskChannelUniqueName string    `json:"task_channel_unique_name"`
	Capacity              int       `json:"capacity"`
	AssignedTasks         int       `json:"assigned_tasks"`
	Available             bool      `json:"available"`
	DateUpdated           time.Time `json:"date_updated"`
}

// ReservationPayload describes an offer of a task to the worker. Task
// and Transfer are embedded when the backend has them at hand (always
// on reservation.created) so the client can materialize the full
// object graph from a single event.
type ReservationPayload struct {
	Sid                string            `json:"sid"`
	AccountSid         string            `json:"account_sid"`
	WorkspaceSid       string            `json:"workspace_sid"`
	WorkerSid          string            `json:"worker_sid"`
	TaskSid            string            `json:"task_sid"`
	Status             ReservationStatus `json:"reservation_status"`
	Timeout            int               `json:"reservation_timeout"`
	CanceledReasonCode *int              `json:"canceled_reason_code,omitempty"`
	DateCreated        time.Time         `json:"date_created"`
	DateUpdated        time.Time         `json:"date_updated"`
	Task               *TaskPayload      `json:"task,omitempty"`
	Transfer           *TransferPayload  `json:"task_transfer,omitempty"`
}

// TaskPayload describes the unit of work routed through the system.
type TaskPayload struct {
	Sid                   string          `json:"sid"`
	WorkspaceSid          string          `json:"workspace_sid"`
	Status                TaskStatus      `json:"assignment_status"`
	Attributes            json.RawMessage `json:"attributes"`
	Priority              int             `json:"priority"`
	Age                   int             `json:"age"`
	Reason                string          `json:"reason,omitempty"`
	QueueSid              string          `json:"queue_sid"`
	QueueName             string          `json:"queue_name"`
	WorkflowSid           string          `json:"workflow_sid"`
	WorkflowName          string          `json:"workflow_name"`
	TaskChannelSid        string          `json:"task_channel_sid"`
	TaskChannelUniqueName string          `json:"task_channel_unique_name"`
	Timeout               int             `json:"timeout"`
	DateCreated           time.Time       `json:"date_created"`
	DateUpdated           time.Time       `json:"date_updated"`
}

// TransferPayload describes a cold or warm handoff of a task.
type TransferPayload struct {
	Sid                      string         `json:"sid"`
	TaskSid                  string         `json:"task_sid"`
	InitiatingReservationSid string         `json:"initiating_reservation_sid"`
	InitiatingWorkerSid      string         `json:"initiating_worker_sid"`
	InitiatingQueueSid       string         `json:"initiating_queue_sid,omitempty"`
	Mode                     TransferMode   `json:"transfer_mode"`
	Type                     TransferType   `json:"transfer_type"`
	To                       string         `json:"transfer_to"`
	Status                   TransferStatus `json:"transfer_status"`
	DateCreated              time.Time      `json:"date_created"`
	DateUpdated              time.Time      `json:"date_updated"`
}

// ErrorPayload is the body of an "error" control event.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ConnectedPayload is the body of the "connected" server hello.
type ConnectedPayload struct {
	SessionSid string `json:"session_sid"`

	// TokenLifetimeMs is the remaining lifetime of the presented
	// token in milliseconds, when the backend advertises it. Zero
	// means unknown — the channel then relies solely on the explicit
	// token-expired signal.
	TokenLifetimeMs int64 `json:"token_lifetime_ms,omitempty"`
}
