// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package client

import (
	"sync"
)

// ConnState is the session's connectivity state as shown to the UI.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	// StateDegraded means every push transport failed and the session is
	// surviving on interval polling. Real-time delivery is unavailable.
	StateDegraded ConnState = "degraded"
)

// StatusListener observes connectivity transitions (status indicators,
// offline banners).
type StatusListener func(state ConnState, tier Tier)

// statusTracker holds the session's current state and notifies listeners
// of transitions.
type statusTracker struct {
	mu        sync.RWMutex
	state     ConnState
	tier      Tier
	listeners []StatusListener
}

func newStatusTracker() *statusTracker {
	return &statusTracker{state: StateDisconnected, tier: TierWebSocket}
}

func (t *statusTracker) set(state ConnState, tier Tier) {
	t.mu.Lock()
	if t.state == state && t.tier == tier {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.tier = tier
	listeners := append([]StatusListener(nil), t.listeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(state, tier)
	}
}

func (t *statusTracker) get() (ConnState, Tier) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state, t.tier
}

func (t *statusTracker) onChange(fn StatusListener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *statusTracker) clear() {
	t.mu.Lock()
	t.listeners = nil
	t.mu.Unlock()
}
