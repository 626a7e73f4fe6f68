// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package client

import (
	"sync"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
)

// Handler receives events of the kind it subscribed to.
type Handler func(event.Envelope)

// subscriptions is the per-session handler registry, keyed by event kind.
// Subscribe returns a cancel function; there is no manual remove-by-value
// bookkeeping for callers to get wrong.
type subscriptions struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[event.Kind]map[uint64]Handler
}

func newSubscriptions() *subscriptions {
	return &subscriptions{handlers: make(map[event.Kind]map[uint64]Handler)}
}

// subscribe registers a handler for one event kind and returns its cancel
// function. Cancel is idempotent.
func (s *subscriptions) subscribe(kind event.Kind, h Handler) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	byID, ok := s.handlers[kind]
	if !ok {
		byID = make(map[uint64]Handler)
		s.handlers[kind] = byID
	}
	byID[id] = h
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if byID, ok := s.handlers[kind]; ok {
				delete(byID, id)
				if len(byID) == 0 {
					delete(s.handlers, kind)
				}
			}
			s.mu.Unlock()
		})
	}
}

// dispatch invokes every handler subscribed to the envelope's kind. A
// panicking handler is logged and skipped; one bad subscriber must not
// take down the session's event loop.
func (s *subscriptions) dispatch(env event.Envelope) {
	s.mu.RLock()
	byID := s.handlers[env.Kind]
	handlers := make([]Handler, 0, len(byID))
	for _, h := range byID {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error().
						Interface("panic", r).
						Str("kind", string(env.Kind)).
						Msg("event handler panicked")
				}
			}()
			h(env)
		}()
	}
}

// clear drops every registered handler. Called at session teardown.
func (s *subscriptions) clear() {
	s.mu.Lock()
	s.handlers = make(map[event.Kind]map[uint64]Handler)
	s.mu.Unlock()
}

// count returns the number of live handlers across all kinds.
func (s *subscriptions) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byID := range s.handlers {
		n += len(byID)
	}
	return n
}
