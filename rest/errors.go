// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"errors"
	"fmt"
)

// RouterError represents a structured error response from the routing
// backend. Callers use errors.As to extract it:
//
//	var routerErr *rest.RouterError
//	if errors.As(err, &routerErr) && routerErr.StatusCode == 400 { ... }
//
// A StatusCode of 0 means the request produced no HTTP response at all
// (connection failure, per-request timeout). Those are always
// transient.
type RouterError struct {
	// Code is the backend's business error code, when present.
	Code int `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// StatusCode is the HTTP status of the response, or 0 when no
	// response was received.
	StatusCode int `json:"-"`
	// Status is the HTTP status text of the response.
	Status string `json:"-"`
}

func (e *RouterError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("router: no response: %s", e.Message)
	}
	return fmt.Sprintf("router: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Transient HTTP statuses: the request may be retried without
// duplicating side effects becoming visible (no response, rate limit,
// server-side failure).
var transientStatuses = map[int]bool{
	0:   true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsTransient classifies a control-plane failure. Transient failures
// (no response, 429, 5xx gateway/server errors) are worth retrying;
// everything else — validation and business-rule rejections — is
// permanent and surfaced immediately.
//
// Caller-initiated cancellation is never transient: retrying a call
// the caller abandoned only wastes the backoff budget.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var routerErr *RouterError
	if errors.As(err, &routerErr) {
		return transientStatuses[routerErr.StatusCode]
	}
	// No structured response at all: connection refused, reset, EOF,
	// per-request timeout. Same class as status 0.
	return true
}
