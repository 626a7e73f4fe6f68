// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package api

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/apotheca-labs/pharmsync/internal/auth"
	"github.com/apotheca-labs/pharmsync/internal/config"
	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/hub"
	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/registry"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const testSecret = "0123456789abcdef0123456789abcdef"

// testServer spins up the full HTTP surface over a live hub.
func testServer(t *testing.T) (*httptest.Server, *hub.Hub, *auth.Verifier) {
	t.Helper()
	cfg := &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:   testSecret,
			CORSOrigins: []string{"https://portal.example.com"},
		},
	}
	verifier, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	h := hub.New(registry.New(), hub.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(cancel)

	srv := httptest.NewServer(NewRouter(cfg, h, verifier).Setup())
	t.Cleanup(srv.Close)
	return srv, h, verifier
}

func signToken(t *testing.T, v *auth.Verifier, tenantID string, role event.Role) string {
	t.Helper()
	token, err := v.Sign(tenantID, role, "user-"+tenantID, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial ws: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) event.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	env, err := event.Unmarshal(data)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func publish(t *testing.T, srv *httptest.Server, token string, req publishRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal publish request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build publish request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func rawPayload(t *testing.T, p event.Payload) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status %q, want ok", body.Status)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d, want 200", resp.StatusCode)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	srv, _, _ := testServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocketRejectsUnauthorizedOrigin(t *testing.T) {
	srv, _, verifier := testServer(t)
	token := signToken(t, verifier, "pharm-1", event.RoleCashier)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + token
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected dial to fail from unauthorized origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestPublishTenantIsolationEndToEnd(t *testing.T) {
	srv, h, verifier := testServer(t)

	conn1 := dialWS(t, srv, signToken(t, verifier, "pharm-1", event.RoleCashier))
	conn2 := dialWS(t, srv, signToken(t, verifier, "pharm-2", event.RoleCashier))
	waitForClients(t, h, 2)

	opsToken := signToken(t, verifier, "hq", event.RoleOperations)
	resp := publish(t, srv, opsToken, publishRequest{
		Kind:  event.KindInventoryUpdated,
		Scope: event.TenantScope("pharm-1"),
		Payload: rawPayload(t, event.InventoryUpdated{
			TenantID: "pharm-1", ProductID: "sku-1", Quantity: 5,
		}),
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status %d, want 202", resp.StatusCode)
	}
	var pub publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&pub); err != nil {
		t.Fatalf("decode publish response: %v", err)
	}
	if pub.Attempted != 1 {
		t.Errorf("attempted %d, want 1", pub.Attempted)
	}

	env := readEnvelope(t, conn1)
	if env.Kind != event.KindInventoryUpdated {
		t.Errorf("kind %s, want %s", env.Kind, event.KindInventoryUpdated)
	}

	// The other tenant must see nothing.
	_ = conn2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn2.ReadMessage(); err == nil {
		t.Error("wrong tenant received the event")
	}
}

func TestPublishScopeConfinement(t *testing.T) {
	srv, _, verifier := testServer(t)
	cashier := signToken(t, verifier, "pharm-1", event.RoleCashier)

	// A tenant-bound token cannot publish into another tenant.
	resp := publish(t, srv, cashier, publishRequest{
		Kind:  event.KindInventoryUpdated,
		Scope: event.TenantScope("pharm-2"),
		Payload: rawPayload(t, event.InventoryUpdated{
			TenantID: "pharm-2", ProductID: "sku-1", Quantity: 5,
		}),
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-tenant publish status %d, want 403", resp.StatusCode)
	}

	// Nor broadcast.
	resp = publish(t, srv, cashier, publishRequest{
		Kind:    event.KindGenericNotification,
		Scope:   event.BroadcastScope(),
		Payload: rawPayload(t, event.GenericNotification{Title: "hi"}),
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("broadcast publish status %d, want 403", resp.StatusCode)
	}

	// Its own tenant is fine.
	resp = publish(t, srv, cashier, publishRequest{
		Kind:  event.KindInventoryUpdated,
		Scope: event.TenantScope("pharm-1"),
		Payload: rawPayload(t, event.InventoryUpdated{
			TenantID: "pharm-1", ProductID: "sku-1", Quantity: 5,
		}),
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("own-tenant publish status %d, want 202", resp.StatusCode)
	}
}

func TestPublishRejectsBadBodies(t *testing.T) {
	srv, _, verifier := testServer(t)
	ops := signToken(t, verifier, "hq", event.RoleOperations)

	// Unknown kind.
	resp := publish(t, srv, ops, publishRequest{
		Kind:    "mystery-event",
		Scope:   event.BroadcastScope(),
		Payload: json.RawMessage(`{}`),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown kind status %d, want 400", resp.StatusCode)
	}

	// Payload that does not decode as the declared kind.
	resp = publish(t, srv, ops, publishRequest{
		Kind:    event.KindInventoryUpdated,
		Scope:   event.TenantScope("pharm-1"),
		Payload: json.RawMessage(`"not an object"`),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatched payload status %d, want 400", resp.StatusCode)
	}

	// No token at all.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/events",
		strings.NewReader(`{}`))
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("publish without token: %v", err)
	}
	defer func() { _ = raw.Body.Close() }()
	if raw.StatusCode != http.StatusUnauthorized {
		t.Errorf("tokenless publish status %d, want 401", raw.StatusCode)
	}
}

func TestStreamDeliversNDJSON(t *testing.T) {
	srv, h, verifier := testServer(t)
	token := signToken(t, verifier, "pharm-1", event.RolePharmacist)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/stream", nil)
	if err != nil {
		t.Fatalf("build stream request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type %q, want application/x-ndjson", ct)
	}
	waitForClients(t, h, 1)

	want, err := event.New(event.TenantScope("pharm-1"), event.PrescriptionCreated{
		TenantID: "pharm-1", PrescriptionID: "rx-7", PatientID: "p-3",
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if got := h.Publish(want); got != 1 {
		t.Fatalf("publish attempted %d, want 1", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() {
		t.Fatalf("no stream line: %v", scanner.Err())
	}
	env, err := event.Unmarshal(scanner.Bytes())
	if err != nil {
		t.Fatalf("decode stream line: %v", err)
	}
	if env.ID != want.ID {
		t.Errorf("stream delivered %s, want %s", env.ID, want.ID)
	}
}

func waitForClients(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", n)
}

func TestWebSocketPongsDoNotInterruptFanOut(t *testing.T) {
	srv, h, verifier := testServer(t)
	token := signToken(t, verifier, "pharm-1", event.RoleCashier)
	conn := dialWS(t, srv, token)
	waitForClients(t, h, 1)

	const events = 10
	pingsDone := make(chan struct{})
	go func() {
		defer close(pingsDone)
		for i := 0; i < 25; i++ {
			if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
	go func() {
		for i := 0; i < events; i++ {
			env, err := event.New(event.TenantScope("pharm-1"), event.SaleCreated{
				TenantID: "pharm-1", SaleID: fmt.Sprintf("s%d", i), Total: 1,
			})
			if err != nil {
				return
			}
			h.Publish(env)
			time.Sleep(time.Millisecond)
		}
	}()

	// Envelopes and pong frames interleave on the one connection; all
	// events must arrive intact.
	var pongs, received int
	readDeadline := time.Now().Add(5 * time.Second)
	for received < events {
		_ = conn.SetReadDeadline(readDeadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (pongs %d, events %d)", err, pongs, received)
		}
		if bytes.Contains(data, []byte(`"pong"`)) {
			pongs++
			continue
		}
		if _, err := event.Unmarshal(data); err != nil {
			t.Fatalf("unexpected frame %s: %v", data, err)
		}
		received++
	}
	<-pingsDone

	// The pong channel coalesces bursts, but the last ping always leaves
	// one pending answer.
	for pongs == 0 {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no pong answered the client pings: %v", err)
		}
		if bytes.Contains(data, []byte(`"pong"`)) {
			pongs++
		}
	}
}
