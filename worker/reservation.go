// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hivedesk/hivedesk/rest"
	"github.com/hivedesk/hivedesk/wire"
)

// Reservation is an offer of a task to this worker. Its accept/reject
// lifecycle is independent of the task's own lifecycle. A reservation
// in a terminal status (rejected, timeout, canceled, rescinded,
// completed) is removed from the worker's reservation map in the same
// step that fires the status event.
type Reservation struct {
	worker *Worker

	// Guarded by worker.mu.
	sid                string
	accountSid         string
	workspaceSid       string
	workerSid          string
	status             wire.ReservationStatus
	timeout            int
	canceledReasonCode *int
	dateCreated        time.Time
	dateUpdated        time.Time
	task               *Task
	transfer           *Transfer // incoming transfer that produced this reservation
	cycle              uint64    // worker.loadCycle when last applied
	events             signal[string]
}

// RejectOptions configures Reservation.Reject.
type RejectOptions struct {
	// ActivitySid is an activity to adopt after the reject.
	ActivitySid string
}

// CallOptions configures the "call" routing instruction: dial the
// worker's contact URI and bridge it to the task's call.
type CallOptions struct {
	// From is the caller ID of the outbound leg. Required.
	From string
	// URL is the TwiML-style document fetched when the worker answers.
	// Required.
	URL string

	To                string
	Accept            bool
	Record            string
	Timeout           int
	StatusCallbackURL string
}

// DequeueOptions configures the "dequeue" routing instruction: dequeue
// the task's call directly to the worker.
type DequeueOptions struct {
	To                   string
	From                 string
	PostWorkActivitySid  string
	Record               string
	Timeout              int
	StatusCallbackURL    string
	StatusCallbackEvents []string
}

// RedirectOptions configures the "redirect" routing instruction:
// redirect an in-progress call leg to new instructions.
type RedirectOptions struct {
	// CallSid is the call leg to redirect. Required.
	CallSid string
	// URL is the instruction document for the redirected leg. Required.
	URL string

	Accept bool
}

// ConferenceOptions configures the "conference" routing instruction:
// put the task's call and the worker into a conference.
type ConferenceOptions struct {
	To                      string
	From                    string
	EndConferenceOnExit     bool
	Record                  string
	RecordingStatusCallback string
	StatusCallback          string
	StatusCallbackMethod    string
	StatusCallbackEvents    []string
}

// Sid returns the reservation's identifier.
func (r *Reservation) Sid() string {
	r.worker.mu.Lock()
	defer r.worker.mu.Unlock()
	return r.sid
}

// Status returns the reservation's lifecycle status.
func (r *Reservation) Status() wire.ReservationStatus {
	r.worker.mu.Lock()
	defer r.worker.mu.Unlock()
	return r.status
}

// Timeout returns the reservation's offer timeout in seconds.
func (r *Reservation) Timeout() int {
	r.worker.mu.Lock()
	defer r.worker.mu.Unlock()
	return r.timeout
}

// CanceledReasonCode returns the backend's reason code when the
// reservation was canceled, or nil.
func (r *Reservation) CanceledReasonCode() *int {
	r.worker.mu.Lock()
	defer r.worker.mu.Unlock()
	return r.canceledReasonCode
}

// Task returns the offered task.
func (r *Reservation) Task() *Task {
	r.worker.mu.Lock()
	defer r.worker.mu.Unlock()
	return r.task
}

// Transfer returns the incoming transfer that produced this
// reservation, or nil for a directly routed task.
func (r *Reservation) Transfer() *Transfer {
	r.worker.mu.Lock()
	defer r.worker.mu.Unlock()
	return r.transfer
}

// DateUpdated returns the server timestamp of the last applied update.
func (r *Reservation) DateUpdated() time.Time {
	r.worker.mu.Lock()
	defer r.worker.mu.Unlock()
	return r.dateUpdated
}

// Events delivers the reservation's public event names: accepted,
// rejected, timeout, canceled, rescinded, completed, wrapup.
func (r *Reservation) Events() <-chan string { return r.events.subscribe() }

// Accept accepts the offer. Valid only while pending. The returned
// value is the receiver itself: callers observe reference equality
// with the reservation that arrived on the creation event.
func (r *Reservation) Accept(ctx context.Context) (*Reservation, error) {
	if err := r.requirePending("accept"); err != nil {
		return nil, err
	}
	if err := r.update(ctx, rest.ReservationUpdate{Status: wire.ReservationStatusAccepted}); err != nil {
		return nil, err
	}
	return r, nil
}

// Reject declines the offer. Valid only while pending.
func (r *Reservation) Reject(ctx context.Context, options RejectOptions) error {
	if err := r.requirePending("reject"); err != nil {
		return err
	}
	return r.update(ctx, rest.ReservationUpdate{
		Status:            wire.ReservationStatusRejected,
		WorkerActivitySid: options.ActivitySid,
	})
}

// Wrap moves the reservation to wrapping. The backend enforces the
// task-state precondition and answers with a 400 when it does not
// hold.
func (r *Reservation) Wrap(ctx context.Context) error {
	return r.update(ctx, rest.ReservationUpdate{Status: wire.ReservationStatusWrapping})
}

// Complete moves the reservation to completed.
func (r *Reservation) Complete(ctx context.Context) error {
	return r.update(ctx, rest.ReservationUpdate{Status: wire.ReservationStatusCompleted})
}

// Call issues the "call" routing instruction on the reservation's task
// channel.
func (r *Reservation) Call(ctx context.Context, options CallOptions) error {
	if options.From == "" {
		return fmt.Errorf("worker: call requires a From caller ID")
	}
	if options.URL == "" {
		return fmt.Errorf("worker: call requires an instruction URL")
	}
	return r.update(ctx, rest.ReservationUpdate{
		Instruction:           rest.InstructionCall,
		CallFrom:              options.From,
		CallTo:                options.To,
		CallURL:               options.URL,
		CallAccept:            options.Accept,
		CallRecord:            options.Record,
		CallTimeout:           options.Timeout,
		CallStatusCallbackURL: options.StatusCallbackURL,
	})
}

// Dequeue issues the "dequeue" routing instruction.
func (r *Reservation) Dequeue(ctx context.Context, options DequeueOptions) error {
	return r.update(ctx, rest.ReservationUpdate{
		Instruction:                 rest.InstructionDequeue,
		DequeueTo:                   options.To,
		DequeueFrom:                 options.From,
		DequeuePostWorkActivitySid:  options.PostWorkActivitySid,
		DequeueRecord:               options.Record,
		DequeueTimeout:              options.Timeout,
		DequeueStatusCallbackURL:    options.StatusCallbackURL,
		DequeueStatusCallbackEvents: options.StatusCallbackEvents,
	})
}

// Redirect issues the "redirect" routing instruction.
func (r *Reservation) Redirect(ctx context.Context, options RedirectOptions) error {
	if options.CallSid == "" {
		return fmt.Errorf("worker: redirect requires the call sid")
	}
	if options.URL == "" {
		return fmt.Errorf("worker: redirect requires an instruction URL")
	}
	return r.update(ctx, rest.ReservationUpdate{
		Instruction:     rest.InstructionRedirect,
		RedirectCallSid: options.CallSid,
		RedirectURL:     options.URL,
		RedirectAccept:  options.Accept,
	})
}

// Conference issues the "conference" routing instruction.
func (r *Reservation) Conference(ctx context.Context, options ConferenceOptions) error {
	return r.update(ctx, rest.ReservationUpdate{
		Instruction:                       rest.InstructionConference,
		ConferenceTo:                      options.To,
		ConferenceFrom:                    options.From,
		EndConferenceOnExit:               options.EndConferenceOnExit,
		ConferenceRecord:                  options.Record,
		ConferenceRecordingStatusCallback: options.RecordingStatusCallback,
		ConferenceStatusCallback:          options.StatusCallback,
		ConferenceStatusCallbackMethod:    options.StatusCallbackMethod,
		ConferenceStatusCallbackEvents:    options.StatusCallbackEvents,
	})
}

func (r *Reservation) requirePending(op string) error {
	r.worker.mu.Lock()
	defer r.worker.mu.Unlock()
	if r.status != wire.ReservationStatusPending {
		return fmt.Errorf("worker: cannot %s reservation %s in status %s", op, r.sid, r.status)
	}
	return nil
}

func (r *Reservation) update(ctx context.Context, update rest.ReservationUpdate) error {
	r.worker.mu.Lock()
	sid := r.sid
	taskSid := ""
	if r.task != nil {
		taskSid = r.task.sid
	}
	r.worker.mu.Unlock()

	// A placeholder synthesized from a payload without a task reference
	// cannot address the task-scoped reservation resource.
	if taskSid == "" {
		return fmt.Errorf("worker: reservation %s has no task", sid)
	}

	payload, err := r.worker.rest.UpdateReservation(ctx, taskSid, sid, update)
	if err != nil {
		return fmt.Errorf("worker: updating reservation %s: %w", sid, err)
	}
	r.worker.applyReservationSeed(payload)
	return nil
}
