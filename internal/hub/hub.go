// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package hub implements the server-side broadcast point: it accepts client
// connections, registers them with the connection registry, and fans
// published events out to every live connection in the target scope.
//
// Delivery is fire-and-forget. A publish returns the number of connections
// the event was attempted on, not confirmed receipt; there is no event log
// and no replay for late joiners. A reconnecting client is expected to
// reconcile with a full data refresh.
package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/metrics"
	"github.com/apotheca-labs/pharmsync/internal/registry"
)

// ShutdownReason names the cause of a hub shutdown for the closing log.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Config shapes per-connection fan-out and keepalive behavior.
type Config struct {
	// SendBuffer bounds the per-connection outbound queue. A connection
	// that falls this far behind is dropped during fan-out.
	SendBuffer int
	// PingPeriod is the server ping cadence. It must stay shorter than
	// PongTimeout, the read deadline extended on every pong.
	PingPeriod  time.Duration
	PongTimeout time.Duration
}

// DefaultConfig returns the fan-out defaults used when the operator
// configures nothing.
func DefaultConfig() Config {
	return Config{
		SendBuffer:  256,
		PingPeriod:  54 * time.Second,
		PongTimeout: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendBuffer < 1 {
		c.SendBuffer = d.SendBuffer
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = d.PingPeriod
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	return c
}

// Hub maintains the set of active clients and fans published events out to
// the connections resolved from the registry.
type Hub struct {
	reg *registry.Registry
	cfg Config

	Register   chan *Client
	Unregister chan *Client

	mu      sync.Mutex
	clients map[string]*Client
}

// New creates a hub backed by the given registry. Zero Config fields take
// the defaults.
func New(reg *registry.Registry, cfg Config) *Hub {
	return &Hub{
		reg:        reg,
		cfg:        cfg.withDefaults(),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[string]*Client),
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *registry.Registry {
	return h.reg
}

// Run starts the hub lifecycle loop and blocks until the context is
// canceled. Designed for suture supervision: on cancellation all clients
// are closed and ctx.Err() is returned so the supervisor can decide
// whether to restart.
//
// Lifecycle events are drained with priority over nothing else here
// because publishing bypasses the loop entirely; the loop only owns
// client registration state.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.reg.Register(client.id, client.tenantID, client.role, client.userID)
	metrics.ConnectedClients.Set(float64(total))
	logging.Info().
		Str("conn_id", client.id).
		Str("tenant", client.tenantID).
		Str("role", string(client.role)).
		Int("total_clients", total).
		Msg("hub client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	if ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.reg.Unregister(client.id)
	metrics.ConnectedClients.Set(float64(total))
	logging.Info().
		Str("conn_id", client.id).
		Int("total_clients", total).
		Msg("hub client disconnected")
}

// Publish resolves the envelope's scope to its current member connections
// and attempts delivery to each. A failed delivery (slow consumer, closed
// transport) disconnects that client but never aborts delivery to others
// and is never surfaced to the publisher. Returns the number of connections
// delivery was attempted on.
func (h *Hub) Publish(env event.Envelope) int {
	if err := env.Validate(); err != nil {
		logging.Warn().Err(err).Msg("rejected invalid event at publish")
		return 0
	}

	// Snapshot the member set first; the per-connection send below must not
	// hold any registry lock.
	targets := h.reg.TargetsFor(env.Scope)
	if len(targets) == 0 {
		metrics.EventsDropped.WithLabelValues(string(env.Kind)).Inc()
		logging.Debug().
			Str("kind", string(env.Kind)).
			Str("scope", env.Scope.String()).
			Msg("event dropped, no live member in scope")
		return 0
	}

	// Deterministic delivery order keeps test runs and log traces stable.
	sort.Strings(targets)

	attempted := 0
	h.mu.Lock()
	var failed []*Client
	for _, id := range targets {
		client, ok := h.clients[id]
		if !ok {
			continue
		}
		attempted++
		metrics.DeliveryAttempts.Inc()
		select {
		case client.send <- env:
		default:
			// Buffer full: the consumer is too slow to keep up. Drop the
			// connection; the client's reconnect path re-syncs it.
			failed = append(failed, client)
			metrics.DeliveryFailures.Inc()
		}
	}
	for _, client := range failed {
		delete(h.clients, client.id)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	for _, client := range failed {
		h.reg.Unregister(client.id)
		logging.Warn().
			Str("conn_id", client.id).
			Str("kind", string(env.Kind)).
			Msg("dropped slow hub client during fan-out")
	}
	if len(failed) > 0 {
		metrics.ConnectedClients.Set(float64(total))
	}

	metrics.EventsPublished.WithLabelValues(string(env.Kind), string(env.Scope.Type)).Inc()
	logging.Debug().
		Str("event_id", env.ID).
		Str("kind", string(env.Kind)).
		Str("scope", env.Scope.String()).
		Int("attempted", attempted).
		Msg("event published")
	return attempted
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		close(h.clients[id].send)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.reg.Unregister(id)
	}
	metrics.ConnectedClients.Set(0)

	reason := ShutdownReasonContextCanceled
	if ctx.Err() == context.DeadlineExceeded {
		reason = ShutdownReasonContextDeadline
	}
	logging.Info().
		Str("component", "hub").
		Str("reason", string(reason)).
		Int("clients_closed", len(ids)).
		Msg("hub stopped")
}
