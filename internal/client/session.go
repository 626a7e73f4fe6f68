// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apotheca-labs/pharmsync/internal/cache"
	"github.com/apotheca-labs/pharmsync/internal/config"
	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/offline"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultCacheTTL     = 30 * time.Second
)

// Config parameterizes one client session.
type Config struct {
	// BaseURL is the server's HTTP base, e.g. "https://sync.example.com".
	BaseURL string
	// Token supplies the bearer token for every connection and replay
	// attempt, so token refresh does not require a new session.
	Token TokenProvider

	// BaseDelay and MaxAttempts shape the reconnect schedule. Zero values
	// take the shared defaults.
	BaseDelay   time.Duration
	MaxAttempts int

	// PollInterval is the refresh cadence once the session has degraded to
	// polling.
	PollInterval time.Duration
	// CacheTTL bounds how stale a cached read may get even when no
	// invalidating event arrives.
	CacheTTL time.Duration

	// StoreDir is the on-disk location of the durable operation queue.
	StoreDir string

	// Refresh re-fetches the data the UI currently displays. The session
	// calls it after each reconnect and on every polling tick.
	Refresh func(ctx context.Context) error
}

// ApplyPolicy fills the reconnect, polling, and cache knobs from the
// service-wide client policy. Fields the caller set explicitly win.
func (c Config) ApplyPolicy(p config.ClientConfig) Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = p.ReconnectBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = p.ReconnectMaxAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = p.PollInterval
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = p.CacheTTL
	}
	return c
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	return c
}

// Session is one client's connection to the event system. It owns the
// transport, the reconnect loop, the subscriber registry, the read cache
// and the offline queue, and tears all of them down together on Close.
type Session struct {
	cfg Config

	neg    *negotiator
	rec    *reconnector
	subs   *subscriptions
	status *statusTracker

	cache *cache.Cache
	store *offline.Store
	queue *offline.Queue

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession builds a session with the real transport ladder and the
// durable queue at cfg.StoreDir. The session is idle until Start.
func NewSession(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("session: BaseURL is required")
	}
	store, err := offline.OpenStore(cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("open offline store: %w", err)
	}
	sender := offline.NewHTTPReplayer(cfg.BaseURL, offline.TokenProvider(cfg.Token))
	transports := []Transport{
		newWSTransport(cfg.BaseURL, cfg.Token),
		newStreamTransport(cfg.BaseURL, cfg.Token),
	}
	return newSession(cfg, store, sender, transports...), nil
}

// newSession wires a session from explicit parts. Tests inject fake
// transports and senders here.
func newSession(cfg Config, store *offline.Store, sender offline.Sender, transports ...Transport) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:    cfg,
		neg:    newNegotiator(transports...),
		rec:    newReconnector(cfg.BaseDelay, cfg.MaxAttempts),
		subs:   newSubscriptions(),
		status: newStatusTracker(),
		cache:  cache.New(cfg.CacheTTL),
		store:  store,
		queue:  offline.NewQueue(store, sender),
		done:   make(chan struct{}),
	}
}

// Start launches the session's run loop. It returns immediately; observe
// progress through OnStatusChange.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
}

// run is the session lifecycle: negotiate a transport, consume its events
// until it dies, reconnect on the same tier, degrade when reconnects are
// exhausted, and finish on the polling loop if every push tier is gone.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}
		s.status.set(StateConnecting, s.neg.tier())

		tr, ch, tier, err := s.neg.connect(ctx)
		if err != nil {
			return
		}
		if tr == nil {
			// Every push transport is exhausted for this session.
			s.pollLoop(ctx)
			return
		}

		s.onConnected(ctx, tier)
		s.consume(ctx, ch)
		if ctx.Err() != nil {
			_ = tr.Close()
			return
		}

		// Connection dropped. Retry this tier with backoff before
		// degrading to the next one.
		s.queue.SetOnline(ctx, false)
		s.status.set(StateReconnecting, tier)
		for {
			ch, err = s.rec.run(ctx, tr)
			if err == nil {
				s.onConnected(ctx, tier)
				s.consume(ctx, ch)
				if ctx.Err() != nil {
					_ = tr.Close()
					return
				}
				s.queue.SetOnline(ctx, false)
				s.status.set(StateReconnecting, tier)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			break
		}
		logging.Warn().
			Str("tier", string(tier)).
			Msg("reconnects exhausted, degrading transport")
		s.neg.degrade()
	}
}

// onConnected marks the session live and resyncs: the queue drains its
// backlog and the display data is re-fetched, since any number of events
// may have been missed while offline.
func (s *Session) onConnected(ctx context.Context, tier Tier) {
	s.status.set(StateConnected, tier)
	s.queue.SetOnline(ctx, true)
	s.refresh(ctx)
}

// consume dispatches inbound events until the transport's channel closes
// or the context ends.
func (s *Session) consume(ctx context.Context, ch <-chan event.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			s.cache.ApplyEvent(env)
			s.subs.dispatch(env)
		}
	}
}

// pollLoop is the terminal degraded mode. There is no push channel, so
// cached reads are dropped wholesale and refetched on a fixed interval.
func (s *Session) pollLoop(ctx context.Context) {
	s.status.set(StateDegraded, TierPolling)
	logging.Warn().
		Dur("interval", s.cfg.PollInterval).
		Msg("all push transports failed, falling back to interval polling")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cache.Clear()
			if ok := s.refresh(ctx); ok {
				s.queue.SetOnline(ctx, true)
			} else {
				s.queue.SetOnline(ctx, false)
			}
		}
	}
}

// refresh runs the caller's data re-fetch, reporting whether it worked.
func (s *Session) refresh(ctx context.Context) bool {
	if s.cfg.Refresh == nil {
		return true
	}
	if err := s.cfg.Refresh(ctx); err != nil {
		logging.Warn().Err(err).Msg("data refresh failed")
		return false
	}
	return true
}

// Subscribe registers a handler for one event kind and returns its cancel
// function. Cancel is idempotent and safe after Close.
func (s *Session) Subscribe(kind event.Kind, h Handler) func() {
	return s.subs.subscribe(kind, h)
}

// Submit routes a mutation through the offline queue: sent immediately
// when online, persisted for replay when not.
func (s *Session) Submit(ctx context.Context, op offline.Operation) (offline.Outcome, error) {
	return s.queue.Submit(ctx, op)
}

// OnOutcome registers a listener for queued-operation results.
func (s *Session) OnOutcome(fn func(offline.Outcome)) {
	s.queue.OnOutcome(fn)
}

// OnStatusChange registers a connectivity listener.
func (s *Session) OnStatusChange(fn StatusListener) {
	s.status.onChange(fn)
}

// State reports the current connectivity state and transport tier.
func (s *Session) State() (ConnState, Tier) {
	return s.status.get()
}

// Cache exposes the session's read cache for the data layer.
func (s *Session) Cache() *cache.Cache {
	return s.cache
}

// Store exposes the durable store for snapshot reads while offline.
func (s *Session) Store() *offline.Store {
	return s.store
}

// Close tears the session down: the run loop stops, the transport drops,
// pending operations stay persisted in the store, and every listener is
// released. Close is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		// The queue must stop its drain goroutine before the store under
		// it goes away.
		s.queue.Close()
		s.cache.Close()
		s.subs.clear()
		s.status.clear()
		s.status.set(StateDisconnected, s.neg.tier())
		if s.store != nil {
			err = s.store.Close()
		}
		logging.Info().Msg("session closed")
	})
	return err
}
