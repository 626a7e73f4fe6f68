// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package bridge

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/hub"
	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/registry"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const testTopic = "pharmsync.events"

// setupBridge wires a hub and a bridge over an in-process pubsub.
func setupBridge(t *testing.T) (*hub.Hub, *gochannel.GoChannel) {
	t.Helper()

	h := hub.New(registry.New(), hub.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(cancel)

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, newWatermillLogger())
	b := New(pubsub, h, testTopic)
	go func() { _ = b.Serve(ctx) }()
	t.Cleanup(func() { _ = b.Close() })

	return h, pubsub
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBridgeFansOutBusEvents(t *testing.T) {
	h, pubsub := setupBridge(t)

	sub := h.Attach("pharm-1", event.RoleCashier, "user-1")
	defer sub.Close()
	other := h.Attach("pharm-2", event.RoleCashier, "user-2")
	defer other.Close()
	waitFor(t, func() bool { return h.ClientCount() == 2 }, "subscribers never attached")

	env, err := event.New(event.TenantScope("pharm-1"), event.SaleCreated{
		TenantID: "pharm-1", SaleID: "s-1", Total: 42,
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := pubsub.Publish(testTopic, message.NewMessage(env.ID, data)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.ID != env.ID {
			t.Errorf("bridged event %s, want %s", got.ID, env.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the scoped subscriber")
	}
	select {
	case got := <-other.Events():
		t.Fatalf("wrong tenant received bridged event %s", got.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeDropsUndecodableMessages(t *testing.T) {
	h, pubsub := setupBridge(t)

	sub := h.Attach("pharm-1", event.RoleCashier, "user-1")
	defer sub.Close()
	waitFor(t, func() bool { return h.ClientCount() == 1 }, "subscriber never attached")

	if err := pubsub.Publish(testTopic,
		message.NewMessage(uuid.New().String(), []byte("not json"))); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	// A valid event after the garbage still flows, proving the consumer
	// loop survived.
	env, err := event.New(event.TenantScope("pharm-1"), event.GenericNotification{Title: "after"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	data, _ := env.Marshal()
	if err := pubsub.Publish(testTopic, message.NewMessage(env.ID, data)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.ID != env.ID {
			t.Errorf("received %s, want %s", got.ID, env.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid event after garbage never arrived")
	}
}

func TestBridgeServeStopsOnCancel(t *testing.T) {
	h := hub.New(registry.New(), hub.DefaultConfig())
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(hubCtx) }()
	defer hubCancel()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, newWatermillLogger())
	b := New(pubsub, h, testTopic)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestEmbeddedServerStartsAndStops(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded NATS server in short mode")
	}
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{})
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	if !srv.IsRunning() {
		t.Error("server not running after start")
	}
	if srv.ClientURL() == "" {
		t.Error("empty client URL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
