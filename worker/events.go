// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import "sync"

// eventBuffer is the per-subscription channel depth. A subscriber that
// falls this far behind loses events rather than stalling dispatch for
// every other subscriber.
const eventBuffer = 16

// signal is a typed publish/subscribe fan-out. Each Subscribe call
// returns an independent buffered channel; emit never blocks.
type signal[T any] struct {
	mu   sync.Mutex
	subs []chan T
}

func (s *signal[T]) subscribe() <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan T, eventBuffer)
	s.subs = append(s.subs, ch)
	return ch
}

func (s *signal[T]) emit(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- value:
		default:
		}
	}
}

// emission is a deferred event delivery. Store mutations collect
// emissions while holding the worker mutex and fire them, in order,
// once the store is consistent again.
type emission func()

func fire(emissions []emission) {
	for _, emit := range emissions {
		emit()
	}
}

// DisconnectEvent reports loss of the signaling connection. Deliberate
// distinguishes a caller-initiated Disconnect from a network failure.
type DisconnectEvent struct {
	Reason     string
	Deliberate bool
}

// ReservationEvent is the worker-level re-exposure of a reservation
// status change. Name carries the "reservation." prefix, for example
// "reservation.accepted".
type ReservationEvent struct {
	Name        string
	Reservation *Reservation
}
