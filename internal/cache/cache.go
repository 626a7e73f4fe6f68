// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package cache provides the client-side read cache: a thread-safe TTL map
// keyed by request signature, with entries tagged by entity type so inbound
// events can invalidate exactly the reads they stale.
//
// This is a freshness optimization, not a consistency mechanism. Code that
// needs strong consistency must bypass the cache and hit the API directly.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/metrics"
)

// cleanupInterval is how often expired entries are swept in the background.
const cleanupInterval = time.Minute

// Entry is a cached response with its expiry and entity tag.
type Entry struct {
	Data      interface{}
	Entity    event.Entity
	ExpiresAt time.Time
}

// Stats tracks cache effectiveness counters.
type Stats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	Invalidations int64
}

// Cache is a thread-safe in-memory TTL cache.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	defaultTTL time.Duration

	hits          atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	invalidations atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a cache with the given default TTL and starts the background
// sweep of expired entries. Call Close when the owning session ends;
// leaking the sweep goroutine is a teardown defect.
func New(defaultTTL time.Duration) *Cache {
	c := &Cache{
		entries:    make(map[string]Entry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Close stops the background sweep. Idempotent.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Key derives a cache key from an endpoint and its parameters. The same
// endpoint and parameters always produce the same key, so repeated reads
// share an entry.
func Key(endpoint string, params interface{}) string {
	raw, err := json.Marshal(params)
	if err != nil {
		// Unmarshalable params cannot share a key; fall back to the endpoint
		// alone so the read still works, just with coarser caching.
		raw = nil
	}
	sum := sha256.Sum256(append([]byte(endpoint+"\x00"), raw...))
	return fmt.Sprintf("%s:%x", endpoint, sum[:8])
}

// Get returns the cached data for key if present and within TTL.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.misses.Add(1)
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// refreshed the entry since the read above.
		if current, ok := c.entries[key]; ok && time.Now().After(current.ExpiresAt) {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	c.hits.Add(1)
	metrics.CacheHits.Inc()
	return entry.Data, true
}

// Set stores data under key with the default TTL, tagged with the entity
// type the data was read from.
func (c *Cache) Set(key string, data interface{}, entity event.Entity) {
	c.SetWithTTL(key, data, entity, c.defaultTTL)
}

// SetWithTTL stores data with an explicit TTL, overwriting any prior entry.
func (c *Cache) SetWithTTL(key string, data interface{}, entity event.Entity, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry{
		Data:      data,
		Entity:    entity,
		ExpiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Invalidate removes a single entry. No-op for unknown keys.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.invalidations.Add(1)
	}
	c.mu.Unlock()
}

// InvalidateEntity removes every entry tagged with the given entity type
// and returns the number removed.
func (c *Cache) InvalidateEntity(entity event.Entity) int {
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if entry.Entity == entity {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.invalidations.Add(int64(removed))
		metrics.CacheInvalidations.WithLabelValues(string(entity)).Add(float64(removed))
	}
	return removed
}

// ApplyEvent invalidates the entity types implied by an inbound event's
// kind, per the fixed kind-to-entity table in the event package.
func (c *Cache) ApplyEvent(env event.Envelope) {
	for _, entity := range env.Kind.Entities() {
		if n := c.InvalidateEntity(entity); n > 0 {
			logging.Debug().
				Str("kind", string(env.Kind)).
				Str("entity", string(entity)).
				Int("removed", n).
				Msg("cache invalidated by event")
		}
	}
}

// Len returns the current number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	now := time.Now()
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		logging.Debug().Int("removed", removed).Msg("cache sweep removed expired entries")
	}
}
