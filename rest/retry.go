// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hivedesk/hivedesk/lib/clock"
)

// retrySchedule is the base delay before each retry attempt.
var retrySchedule = [...]time.Duration{
	800 * time.Millisecond,
	1200 * time.Millisecond,
	2800 * time.Millisecond,
}

// retryJitterWindow is added to each base delay as a uniform random
// offset in [0, retryJitterWindow). With three attempts the total
// retry delay falls in [4800 ms, 5100 ms).
const retryJitterWindow = 100 * time.Millisecond

// Executor wraps a single outbound control-plane command with
// classification-driven retry. Only commands whose repetition is safe
// may go through it — it is not a generic all-request retrier.
//
// The retry counter is per-Executor state: it accumulates across
// commands issued by the owning client and resets only when a new
// client (and with it a new Executor) is constructed.
type Executor struct {
	clock  clock.Clock
	logger *slog.Logger

	// jitter returns a uniform sample in [0, 1). Replaceable in tests
	// for edge-of-window determinism; the default is math/rand.
	jitter func() float64

	mu      sync.Mutex
	retries int
}

// NewExecutor creates an Executor. A nil clock falls back to the real
// clock, a nil logger to slog.Default().
func NewExecutor(clk clock.Clock, logger *slog.Logger) *Executor {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{clock: clk, logger: logger, jitter: rand.Float64}
}

// Do runs op, retrying transient failures up to three times after the
// initial failure. Delays before successive retries are
// schedule[i] + jitter. Non-transient failures and successes return
// immediately; after the third failed retry the last failure is
// surfaced.
func (e *Executor) Do(ctx context.Context, label string, op func(context.Context) ([]byte, error)) ([]byte, error) {
	body, err := op(ctx)
	if err == nil || !IsTransient(err) {
		return body, err
	}
	lastErr := err

	for attempt := 0; attempt < len(retrySchedule); attempt++ {
		delay := retrySchedule[attempt] + time.Duration(e.jitter()*float64(retryJitterWindow))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.clock.After(delay):
		}

		e.mu.Lock()
		e.retries++
		count := e.retries
		e.mu.Unlock()

		e.logger.Warn("retrying transient control-plane failure",
			"command", label,
			"attempt", attempt+1,
			"delay", delay,
			"total_retries", count,
			"error", lastErr,
		)

		body, err = op(ctx)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// RetryCount returns the number of retry attempts this Executor has
// made since construction. Exposed for observability; it is never
// reset in place.
func (e *Executor) RetryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retries
}
