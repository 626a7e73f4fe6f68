// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package client

import (
	"context"
	"errors"
	"time"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/metrics"
)

// Unified reconnect policy. The various portals used to carry their own
// diverging constants; one schedule now applies everywhere.
const (
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxAttempts = 5
)

// ErrRetriesExhausted is returned when every reconnect attempt failed and
// the caller should degrade to the next transport tier.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// reconnector re-runs a transport's connect handshake with exponential
// backoff: attempt N (0-indexed) waits baseDelay * 2^N first. After
// maxAttempts failures it gives up so the negotiator can degrade.
type reconnector struct {
	baseDelay   time.Duration
	maxAttempts int

	// sleep is replaceable in tests to make the schedule observable
	// without real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func newReconnector(baseDelay time.Duration, maxAttempts int) *reconnector {
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &reconnector{
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// run retries tr.Connect until it succeeds, the attempt budget is spent,
// or the context is canceled. The backoff sleep happens before each
// attempt, so a dropped connection is never redialed instantly.
func (r *reconnector) run(ctx context.Context, tr Transport) (<-chan event.Envelope, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		delay := r.baseDelay << attempt
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}

		metrics.ReconnectAttempts.Inc()
		logging.Info().
			Int("attempt", attempt+1).
			Int("max_attempts", r.maxAttempts).
			Str("tier", string(tr.Tier())).
			Msg("reconnect attempt")

		ch, err := tr.Connect(ctx)
		if err == nil {
			return ch, nil
		}
		logging.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("tier", string(tr.Tier())).
			Msg("reconnect attempt failed")
	}
	return nil, ErrRetriesExhausted
}
