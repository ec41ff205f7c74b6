// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"encoding/json"

	"github.com/hivedesk/hivedesk/wire"
)

// WorkerUpdate mutates worker-level state. Exactly one of ActivitySid
// or Attributes is set per call.
type WorkerUpdate struct {
	// ActivitySid adopts this activity as the worker's current one.
	ActivitySid string `json:"activity_sid,omitempty"`

	// RejectPendingReservations rejects all pending reservations as a
	// side effect of the activity change.
	RejectPendingReservations bool `json:"reject_pending_reservations,omitempty"`

	// Attributes replaces the worker's attribute document.
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// Instruction names accepted on a reservation update. Each one drives
// the backend's telephony integration for the reservation's task
// channel.
const (
	InstructionCall       = "call"
	InstructionDequeue    = "dequeue"
	InstructionRedirect   = "redirect"
	InstructionConference = "conference"
)

// ReservationUpdate mutates a reservation: a status change (accept,
// reject, wrap, complete) or a routing instruction on an accepted
// reservation's underlying task channel.
type ReservationUpdate struct {
	Status wire.ReservationStatus `json:"reservation_status,omitempty"`

	// WorkerActivitySid is the activity to adopt after a reject.
	WorkerActivitySid string `json:"worker_activity_sid,omitempty"`

	Instruction string `json:"instruction,omitempty"`

	// Call instruction options.
	CallFrom              string `json:"call_from,omitempty"`
	CallTo                string `json:"call_to,omitempty"`
	CallURL               string `json:"call_url,omitempty"`
	CallAccept            bool   `json:"call_accept,omitempty"`
	CallRecord            string `json:"call_record,omitempty"`
	CallTimeout           int    `json:"call_timeout,omitempty"`
	CallStatusCallbackURL string `json:"call_status_callback_url,omitempty"`

	// Dequeue instruction options.
	DequeueTo                   string   `json:"dequeue_to,omitempty"`
	DequeueFrom                 string   `json:"dequeue_from,omitempty"`
	DequeuePostWorkActivitySid  string   `json:"dequeue_post_work_activity_sid,omitempty"`
	DequeueRecord               string   `json:"dequeue_record,omitempty"`
	DequeueTimeout              int      `json:"dequeue_timeout,omitempty"`
	DequeueStatusCallbackURL    string   `json:"dequeue_status_callback_url,omitempty"`
	DequeueStatusCallbackEvents []string `json:"dequeue_status_callback_events,omitempty"`

	// Redirect instruction options.
	RedirectCallSid string `json:"redirect_call_sid,omitempty"`
	RedirectURL     string `json:"redirect_url,omitempty"`
	RedirectAccept  bool   `json:"redirect_accept,omitempty"`

	// Conference instruction options.
	ConferenceTo                      string   `json:"conference_to,omitempty"`
	ConferenceFrom                    string   `json:"conference_from,omitempty"`
	EndConferenceOnExit               bool     `json:"end_conference_on_exit,omitempty"`
	ConferenceRecord                  string   `json:"conference_record,omitempty"`
	ConferenceRecordingStatusCallback string   `json:"conference_recording_status_callback,omitempty"`
	ConferenceStatusCallback          string   `json:"conference_status_callback,omitempty"`
	ConferenceStatusCallbackMethod    string   `json:"conference_status_callback_method,omitempty"`
	ConferenceStatusCallbackEvents    []string `json:"conference_status_callback_events,omitempty"`
}

// TaskUpdate mutates task-level state.
type TaskUpdate struct {
	Status wire.TaskStatus `json:"assignment_status,omitempty"`

	// Reason documents a completion or wrapup.
	Reason string `json:"reason,omitempty"`

	// Attributes replaces the task's attribute document.
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// CreateTaskRequest creates a new task in the workspace.
type CreateTaskRequest struct {
	TaskChannelUniqueName string          `json:"task_channel_unique_name,omitempty"`
	TaskChannelSid        string          `json:"task_channel_sid,omitempty"`
	WorkflowSid           string          `json:"workflow_sid,omitempty"`
	Attributes            json.RawMessage `json:"attributes,omitempty"`
}

// CreateTransferRequest starts a transfer of a task to another worker
// or queue.
type CreateTransferRequest struct {
	ReservationSid string            `json:"initiating_reservation_sid"`
	To             string            `json:"transfer_to"`
	Mode           wire.TransferMode `json:"transfer_mode"`
	Attributes     json.RawMessage   `json:"attributes,omitempty"`
}

// HoldRequest toggles the hold state of a conference participant.
type HoldRequest struct {
	TargetWorkerSid string `json:"target_worker_sid"`
	Hold            bool   `json:"hold"`
}

// page is the envelope of list responses. The backend pages at
// DefaultPageSize; a single page covers every realistic worker, so
// the client reads only the first page of snapshot lists.
type page[T any] struct {
	Items []T    `json:"items"`
	Meta  struct {
		PageSize int    `json:"page_size"`
		NextPage string `json:"next_page_url,omitempty"`
	} `json:"meta"`
}
