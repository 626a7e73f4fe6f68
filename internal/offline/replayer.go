// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/apotheca-labs/pharmsync/internal/logging"
)

// maxRejectionBodyBytes bounds how much of an error response is kept for
// the rejection message shown to the user.
const maxRejectionBodyBytes = 4 * 1024

// TokenProvider supplies the bearer token for replayed requests. Replay
// can happen long after enqueue, so the token is fetched per request
// rather than captured at enqueue time.
type TokenProvider func() string

// HTTPReplayer sends operations through the same REST mutation endpoints
// the UI calls directly. A circuit breaker stops hammering a backend that
// is down; a breaker-open failure counts as retryable, not as a rejection.
type HTTPReplayer struct {
	baseURL string
	client  *http.Client
	token   TokenProvider
	breaker *gobreaker.CircuitBreaker[any]
}

// NewHTTPReplayer creates a replayer for the given API base URL.
func NewHTTPReplayer(baseURL string, token TokenProvider) *HTTPReplayer {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "offline-replay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("replay circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Rejections are the backend answering; only transport failures
			// should open the circuit.
			return err == nil || !IsRetryable(err)
		},
	})
	return &HTTPReplayer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		token:   token,
		breaker: breaker,
	}
}

// Send delivers one operation. Transport errors and 5xx responses are
// retryable; 4xx responses are returned as *RejectionError.
func (r *HTTPReplayer) Send(ctx context.Context, op Operation) error {
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.send(ctx, op)
	})
	return err
}

func (r *HTTPReplayer) send(ctx context.Context, op Operation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return &RejectionError{StatusCode: 0, Body: fmt.Sprintf("unmarshalable operation: %v", err)}
	}

	method, path := op.Request()
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op.OpType(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != nil {
		if tok := r.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", op.OpType(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectionBodyBytes))
		return &RejectionError{StatusCode: resp.StatusCode, Body: string(msg)}
	default:
		// 5xx: the backend may recover; treat as transport-level.
		return fmt.Errorf("send %s: server returned %d", op.OpType(), resp.StatusCode)
	}
}
