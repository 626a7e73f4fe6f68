// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package cache

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c := New(ttl)
	t.Cleanup(c.Close)
	return c
}

func TestSetGetWithinTTL(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("inventory:list", []string{"amoxicillin"}, event.EntityInventory)

	data, ok := c.Get("inventory:list")
	if !ok {
		t.Fatal("expected hit")
	}
	items, ok := data.([]string)
	if !ok || len(items) != 1 || items[0] != "amoxicillin" {
		t.Errorf("data = %v", data)
	}
}

func TestGetAfterTTLMisses(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.SetWithTTL("k", "v", event.EntityInventory, 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after TTL elapsed")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, expired entry not evicted on read", c.Len())
	}
}

func TestGetUnknownKeyMisses(t *testing.T) {
	c := newTestCache(t, time.Minute)
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestSetOverwrites(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("k", "old", event.EntitySales)
	c.Set("k", "new", event.EntitySales)

	data, ok := c.Get("k")
	if !ok || data != "new" {
		t.Errorf("Get = %v, %v, want new", data, ok)
	}
}

func TestInvalidateSingleKey(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("k", "v", event.EntitySales)
	c.Invalidate("k")

	if _, ok := c.Get("k"); ok {
		t.Error("entry survived Invalidate")
	}
	c.Invalidate("unknown") // must not panic
}

func TestInvalidateEntityRemovesOnlyMatching(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("inventory:list", "a", event.EntityInventory)
	c.Set("inventory:item:7", "b", event.EntityInventory)
	c.Set("sales:today", "c", event.EntitySales)

	if removed := c.InvalidateEntity(event.EntityInventory); removed != 2 {
		t.Errorf("InvalidateEntity removed %d, want 2", removed)
	}
	if _, ok := c.Get("inventory:list"); ok {
		t.Error("inventory entry survived entity invalidation")
	}
	if _, ok := c.Get("sales:today"); !ok {
		t.Error("sales entry was wrongly invalidated")
	}
}

func TestApplyEventInvalidatesMappedEntities(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("inventory:list", "a", event.EntityInventory)
	c.Set("sales:today", "b", event.EntitySales)
	c.Set("patients:list", "c", event.EntityPatients)

	env, err := event.New(event.TenantScope("pharm-1"), event.SaleCreated{
		TenantID: "pharm-1", SaleID: "s1", Total: 5,
	})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	c.ApplyEvent(env)

	// sale-created maps to sales and inventory.
	if _, ok := c.Get("inventory:list"); ok {
		t.Error("inventory entry survived sale-created event")
	}
	if _, ok := c.Get("sales:today"); ok {
		t.Error("sales entry survived sale-created event")
	}
	if _, ok := c.Get("patients:list"); !ok {
		t.Error("patients entry was wrongly invalidated")
	}
}

func TestKeyDeterministic(t *testing.T) {
	type params struct {
		Page  int    `json:"page"`
		Query string `json:"query"`
	}
	k1 := Key("/api/v1/inventory", params{Page: 1, Query: "amox"})
	k2 := Key("/api/v1/inventory", params{Page: 1, Query: "amox"})
	k3 := Key("/api/v1/inventory", params{Page: 2, Query: "amox"})

	if k1 != k2 {
		t.Errorf("same params produced different keys: %q vs %q", k1, k2)
	}
	if k1 == k3 {
		t.Error("different params produced the same key")
	}
}

func TestStatsCounters(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("k", "v", event.EntityUsers)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 2 {
		t.Errorf("Hits = %d, want 2", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("Misses = %d, want 1", s.Misses)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k-%d", j%10)
				c.Set(key, worker, event.EntityInventory)
				c.Get(key)
				if j%50 == 0 {
					c.InvalidateEntity(event.EntityInventory)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestCloseIdempotent(t *testing.T) {
	c := New(time.Minute)
	c.Close()
	c.Close() // must not panic
}
