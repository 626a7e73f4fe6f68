// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package metrics exposes Prometheus instrumentation for the hub, the
// offline queue, the client cache, and transport lifecycle. All collectors
// are registered with the default registry via promauto and served on
// /metrics by the API router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hub metrics

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pharmsync_hub_connected_clients",
			Help: "Current number of live hub connections",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmsync_hub_events_published_total",
			Help: "Total events accepted for fan-out, by kind and scope type",
		},
		[]string{"kind", "scope"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmsync_hub_events_dropped_total",
			Help: "Events published with no live member in the target scope",
		},
		[]string{"kind"},
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmsync_hub_delivery_failures_total",
			Help: "Per-connection delivery failures (slow consumer or closed transport)",
		},
	)

	DeliveryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmsync_hub_delivery_attempts_total",
			Help: "Per-connection delivery attempts across all published events",
		},
	)

	// Client transport metrics

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmsync_client_reconnect_attempts_total",
			Help: "Reconnect handshake attempts across all client sessions",
		},
	)

	TransportDowngrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmsync_client_transport_downgrades_total",
			Help: "Transport tier downgrades, by tier fallen to",
		},
		[]string{"tier"},
	)

	// Offline queue metrics

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pharmsync_offline_queue_depth",
			Help: "Pending operations currently persisted in the offline queue",
		},
	)

	QueueReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmsync_offline_queue_replays_total",
			Help: "Replay outcomes for queued operations",
		},
		[]string{"outcome"}, // "success", "retry", "rejected", "exhausted"
	)

	// Cache metrics

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmsync_cache_hits_total",
			Help: "Cache lookups served within TTL",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pharmsync_cache_misses_total",
			Help: "Cache lookups that missed or had expired",
		},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmsync_cache_invalidations_total",
			Help: "Entries removed by event-driven or explicit invalidation",
		},
		[]string{"entity"},
	)
)

// Replay outcome label values for QueueReplays.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeRejected  = "rejected"
	OutcomeExhausted = "exhausted"
)
