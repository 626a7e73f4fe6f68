// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package bridge connects the backend event bus to the hub: envelopes
// published to NATS by application services are consumed here and fanned
// out to the live connections. The bus carries no history; the bridge is
// a pipe, not a store.
package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/hub"
	"github.com/apotheca-labs/pharmsync/internal/logging"
)

// SubscriberConfig holds the NATS consumption settings.
type SubscriberConfig struct {
	URL        string
	Topic      string
	QueueGroup string
}

// NewNATSSubscriber creates the watermill subscriber the bridge consumes
// from. Core NATS only: events are ephemeral and a restart starting from
// "now" is exactly the semantics clients already handle via refresh.
func NewNATSSubscriber(cfg SubscriberConfig) (message.Subscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Error().Err(err).Msg("NATS subscriber disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS subscriber reconnected")
		}),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, newWatermillLogger())
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	return sub, nil
}

// Bridge consumes envelopes from a subscriber and publishes them to the
// hub.
type Bridge struct {
	sub       message.Subscriber
	hub       *hub.Hub
	topic     string
	consuming atomic.Bool
}

// New creates a bridge from any watermill subscriber. Tests pass an
// in-process pubsub; production passes NewNATSSubscriber.
func New(sub message.Subscriber, h *hub.Hub, topic string) *Bridge {
	return &Bridge{sub: sub, hub: h, topic: topic}
}

// Serve consumes until the context ends. Designed for suture supervision:
// the subscription failing returns an error so the supervisor restarts
// the bridge.
func (b *Bridge) Serve(ctx context.Context) error {
	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	logging.Info().Str("topic", b.topic).Msg("bridge consuming")
	b.consuming.Store(true)
	defer b.consuming.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("subscription channel for %s closed", b.topic)
			}
			b.handle(msg)
		}
	}
}

// handle decodes and fans out one message. Malformed messages are acked
// and dropped; redelivering garbage cannot make it valid.
func (b *Bridge) handle(msg *message.Message) {
	defer msg.Ack()

	env, err := event.Unmarshal(msg.Payload)
	if err != nil {
		logging.Warn().
			Err(err).
			Str("message_id", msg.UUID).
			Msg("dropping undecodable bus message")
		return
	}
	attempted := b.hub.Publish(env)
	logging.Debug().
		Str("event_id", env.ID).
		Str("kind", string(env.Kind)).
		Int("attempted", attempted).
		Msg("bridged event")
}

// Consuming reports whether the bridge is currently subscribed to the
// event topic. Used by the health endpoint.
func (b *Bridge) Consuming() bool {
	return b.consuming.Load()
}

// Close shuts down the underlying subscriber.
func (b *Bridge) Close() error {
	return b.sub.Close()
}
