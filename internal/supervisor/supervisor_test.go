// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockServer implements HTTPServer with controllable lifecycle.
type mockServer struct {
	started  chan struct{}
	release  chan error
	shutdown atomic.Bool
}

func newMockServer() *mockServer {
	return &mockServer{
		started: make(chan struct{}),
		release: make(chan error, 1),
	}
}

func (m *mockServer) ListenAndServe() error {
	close(m.started)
	return <-m.release
}

func (m *mockServer) Shutdown(context.Context) error {
	m.shutdown.Store(true)
	m.release <- nil
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newMockServer()
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
	if !srv.shutdown.Load() {
		t.Error("server Shutdown was never called")
	}
}

func TestHTTPServiceSurfacesListenError(t *testing.T) {
	srv := newMockServer()
	svc := NewHTTPService(srv, time.Second)

	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background()) }()

	<-srv.started
	srv.release <- errors.New("port in use")

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected listen error to surface")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after server error")
	}
}

func TestTreeRestartsCrashedService(t *testing.T) {
	tree := NewTree(discardLogger(), TreeConfig{
		FailureBackoff: 10 * time.Millisecond,
	})

	var runs atomic.Int32
	tree.AddMessagingService(RunFunc{
		Name: "flaky",
		Fn: func(ctx context.Context) error {
			if runs.Add(1) < 3 {
				return errors.New("crash")
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if runs.Load() >= 3 {
			cancel()
			<-errCh
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("service restarted %d times, want at least 3", runs.Load())
}

func TestTreeStopsAllLayersOnCancel(t *testing.T) {
	tree := NewTree(discardLogger(), DefaultTreeConfig())

	var messagingStopped, apiStopped atomic.Bool
	tree.AddMessagingService(RunFunc{Name: "hub", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		messagingStopped.Store(true)
		return ctx.Err()
	}})
	tree.AddAPIService(RunFunc{Name: "api", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		apiStopped.Store(true)
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
	if !messagingStopped.Load() || !apiStopped.Load() {
		t.Errorf("layers stopped: messaging=%v api=%v, want both",
			messagingStopped.Load(), apiStopped.Load())
	}
}
