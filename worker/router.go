// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/hivedesk/hivedesk/rest"
	"github.com/hivedesk/hivedesk/wire"
)

// route translates one inbound wire envelope into an entity store
// mutation plus public event emission. A malformed payload is logged
// and dropped; it never crashes the dispatch loop.
func (w *Worker) route(envelope wire.Envelope) {
	switch envelope.EventType {
	case wire.EventConnected:
		var payload wire.ConnectedPayload
		if !w.decode(envelope, &payload) {
			return
		}
		w.mu.Lock()
		w.sessionSid = payload.SessionSid
		w.mu.Unlock()
		return

	case wire.EventError:
		var payload wire.ErrorPayload
		if !w.decode(envelope, &payload) {
			return
		}
		// Fatal session error: no auto-recovery, the caller decides.
		w.errorsSig.emit(&rest.RouterError{Code: payload.Code, Message: payload.Message})
		return

	case wire.EventWorkerActivityUpdate, wire.EventWorkerAttributesUpdate:
		var payload wire.WorkerPayload
		if !w.decode(envelope, &payload) {
			return
		}
		w.applyWorkerSeed(&payload)
		return

	case wire.EventWorkerCapacityUpdate, wire.EventWorkerChannelAvailability:
		var payload wire.ChannelPayload
		if !w.decode(envelope, &payload) {
			return
		}
		var em []emission
		w.mu.Lock()
		w.applyChannelLocked(&payload, &em)
		w.mu.Unlock()
		fire(em)
		return
	}

	if envelope.EventType == wire.EventReservationCreated {
		var payload wire.ReservationPayload
		if !w.decode(envelope, &payload) {
			return
		}
		var em []emission
		w.mu.Lock()
		w.applyReservationLocked(true, &payload, &em)
		w.mu.Unlock()
		fire(em)
		return
	}
	if _, ok := wire.ReservationEvents[envelope.EventType]; ok {
		var payload wire.ReservationPayload
		if !w.decode(envelope, &payload) {
			return
		}
		w.applyReservationSeed(&payload)
		return
	}
	if _, ok := wire.TaskEvents[envelope.EventType]; ok {
		var payload wire.TaskPayload
		if !w.decode(envelope, &payload) {
			return
		}
		w.applyTaskSeed(&payload)
		return
	}
	if name, ok := wire.TransferEvents[envelope.EventType]; ok {
		var payload wire.TransferPayload
		if !w.decode(envelope, &payload) {
			return
		}
		w.applyTransferSeed(&payload, name)
		return
	}

	w.logger.Debug("ignoring unrecognized event", "event_type", envelope.EventType)
}

func (w *Worker) decode(envelope wire.Envelope, target any) bool {
	if err := envelope.DecodePayload(target); err != nil {
		w.logger.Warn("dropping malformed event payload",
			"event_type", envelope.EventType,
			"error", err,
		)
		return false
	}
	return true
}
