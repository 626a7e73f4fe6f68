// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/apotheca-labs/pharmsync/internal/event"
)

// Subscription is a connection-less hub membership used by transports
// that are not websockets, such as the NDJSON stream handler. It receives
// the same scoped fan-out as a websocket client; the consumer drains
// Events and ends when the channel closes.
type Subscription struct {
	client    *Client
	closeOnce sync.Once
}

// Attach registers a subscriber without a websocket connection. The
// returned subscription participates in fan-out under the same slow
// consumer rules as any client: fall a full send buffer behind and the
// hub drops it, closing Events.
func (h *Hub) Attach(tenantID string, role event.Role, userID string) *Subscription {
	client := &Client{
		id:       uuid.New().String(),
		tenantID: tenantID,
		role:     role,
		userID:   userID,
		hub:      h,
		send:     make(chan event.Envelope, h.cfg.SendBuffer),
	}
	h.Register <- client
	return &Subscription{client: client}
}

// ID returns the subscription's connection id.
func (s *Subscription) ID() string {
	return s.client.id
}

// Events is the subscriber's inbound channel. It is closed when the
// subscription is closed, dropped as a slow consumer, or the hub stops.
func (s *Subscription) Events() <-chan event.Envelope {
	return s.client.send
}

// Close detaches the subscription from the hub. Idempotent, and safe to
// call after the hub has already dropped the subscriber.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.client.hub.Unregister <- s.client
	})
}
