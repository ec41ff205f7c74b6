// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is a single inbound signaling message: an event type code
// plus a JSON payload identifying the affected account, worker, task,
// reservation, or transfer.
type Envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// ParseEnvelope decodes a raw signaling frame. An envelope without an
// event type is malformed — the connection layer drops it.
func ParseEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("wire: malformed signaling frame: %w", err)
	}
	if envelope.EventType == "" {
		return Envelope{}, fmt.Errorf("wire: signaling frame missing event_type")
	}
	return envelope, nil
}

// DecodePayload unmarshals the envelope's payload into target.
func (e Envelope) DecodePayload(target any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("wire: %s envelope has no payload", e.EventType)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("wire: decoding %s payload: %w", e.EventType, err)
	}
	return nil
}

// Encode serializes the envelope for transmission. Used by the
// in-process test backend; the production client never writes
// entity events, only the backend does.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding envelope: %w", err)
	}
	return data, nil
}
