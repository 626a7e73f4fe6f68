// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package client

import (
	"context"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/metrics"
)

// negotiator walks the transport ladder: websocket first, then the
// server-push stream, then polling. Degradation is one-way for the life
// of a session; once on polling there is no automatic upgrade back.
type negotiator struct {
	transports []Transport // in preference order
	current    int
}

func newNegotiator(transports ...Transport) *negotiator {
	return &negotiator{transports: transports}
}

// connect attempts the current and remaining push transports in order and
// returns the first that establishes. When every push transport fails the
// negotiator lands on TierPolling with a nil transport; the session then
// runs its interval-refresh loop instead.
func (n *negotiator) connect(ctx context.Context) (Transport, <-chan event.Envelope, Tier, error) {
	for ; n.current < len(n.transports); n.current++ {
		tr := n.transports[n.current]
		ch, err := tr.Connect(ctx)
		if err == nil {
			return tr, ch, tr.Tier(), nil
		}
		if ctx.Err() != nil {
			return nil, nil, TierPolling, ctx.Err()
		}
		logging.Warn().
			Err(err).
			Str("tier", string(tr.Tier())).
			Msg("transport connect failed, degrading")
		metrics.TransportDowngrades.WithLabelValues(nextTierLabel(n.current, n.transports)).Inc()
	}
	return nil, nil, TierPolling, nil
}

// degrade abandons the current transport tier so the next connect starts
// at the following one.
func (n *negotiator) degrade() {
	if n.current < len(n.transports) {
		metrics.TransportDowngrades.WithLabelValues(nextTierLabel(n.current, n.transports)).Inc()
		n.current++
	}
}

// tier reports the tier the negotiator currently sits on.
func (n *negotiator) tier() Tier {
	if n.current < len(n.transports) {
		return n.transports[n.current].Tier()
	}
	return TierPolling
}

func nextTierLabel(current int, transports []Transport) string {
	if current+1 < len(transports) {
		return string(transports[current+1].Tier())
	}
	return string(TierPolling)
}
