// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package event

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"time"
)

// Envelope is the wire form of an event: a kind tag, a fan-out scope, and
// the kind-specific payload as raw JSON. Envelopes are ephemeral; they are
// never persisted and carry no delivery guarantee.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Scope     Scope           `json:"scope"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an envelope for the given payload. The scope is validated and
// the payload's kind tag comes from the payload type itself, so a payload
// can never be published under the wrong kind.
func New(scope Scope, payload Payload) (Envelope, error) {
	if err := scope.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("invalid scope: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", payload.EventKind(), err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Kind:      payload.EventKind(),
		Scope:     scope,
		Payload:   raw,
		Timestamp: nowUTC(),
	}, nil
}

// Decode returns the typed payload for the envelope's kind.
func (e Envelope) Decode() (Payload, error) {
	return decodePayload(e.Kind, e.Payload)
}

// Validate checks the envelope's kind and scope. Used at ingress boundaries
// (publish endpoint, bridge) before fan-out.
func (e Envelope) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return e.Scope.Validate()
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope from the wire, validating kind and scope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
