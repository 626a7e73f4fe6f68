// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package client is the session-side half of the event system: it
// negotiates a transport to the hub, keeps it alive across failures with
// bounded exponential backoff, dispatches inbound events to subscribers
// and the read cache, and routes mutations through the offline queue.
//
// A Session is an explicit per-client context object. Nothing in this
// package is a global; tests run many sessions in one process.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
)

// Tier identifies a transport strategy, in degradation order.
type Tier string

const (
	// TierWebSocket is the primary bidirectional transport.
	TierWebSocket Tier = "websocket"
	// TierStream is the unidirectional server-push fallback (NDJSON over a
	// chunked HTTP response).
	TierStream Tier = "stream"
	// TierPolling is the terminal fallback: no push channel at all, the
	// session refreshes data on a fixed interval instead.
	TierPolling Tier = "polling"
)

// Transport establishes one live push channel to the hub. Connect returns
// a channel of inbound envelopes that is closed when the connection dies;
// Close tears the connection down immediately.
type Transport interface {
	Tier() Tier
	Connect(ctx context.Context) (<-chan event.Envelope, error)
	Close() error
}

// wsTransport is the primary transport: a gorilla websocket connection to
// the hub's /ws endpoint.
type wsTransport struct {
	url   string // ws:// or wss:// URL including the /ws path
	token TokenProvider
	conn  *websocket.Conn
}

// TokenProvider supplies the current bearer token per connection attempt.
type TokenProvider func() string

func newWSTransport(baseURL string, token TokenProvider) *wsTransport {
	wsURL := strings.Replace(baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	return &wsTransport{url: wsURL + "/ws", token: token}
}

func (t *wsTransport) Tier() Tier { return TierWebSocket }

func (t *wsTransport) Connect(ctx context.Context) (<-chan event.Envelope, error) {
	header := http.Header{}
	if t.token != nil {
		if tok := t.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	t.conn = conn

	ch := make(chan event.Envelope, 64)
	go func() {
		defer close(ch)
		defer func() { _ = conn.Close() }()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := event.Unmarshal(data)
			if err != nil {
				// Control frames (pong replies) and malformed events are
				// skipped; the channel only carries valid envelopes.
				continue
			}
			select {
			case ch <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (t *wsTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}

// streamTransport is the secondary transport: newline-delimited JSON
// envelopes over a long-lived chunked HTTP response.
type streamTransport struct {
	url    string
	token  TokenProvider
	cancel context.CancelFunc
}

func newStreamTransport(baseURL string, token TokenProvider) *streamTransport {
	return &streamTransport{url: baseURL + "/api/v1/stream", token: token}
}

func (t *streamTransport) Tier() Tier { return TierStream }

func (t *streamTransport) Connect(ctx context.Context) (<-chan event.Envelope, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	if t.token != nil {
		if tok := t.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	req.Header.Set("Accept", "application/x-ndjson")

	// No client timeout: the stream is intentionally long-lived and is torn
	// down through the context instead.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: status %d", resp.StatusCode)
	}

	ch := make(chan event.Envelope, 64)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			env, err := event.Unmarshal(line)
			if err != nil {
				logging.Debug().Err(err).Msg("skipping malformed stream line")
				continue
			}
			select {
			case ch <- env:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (t *streamTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}
