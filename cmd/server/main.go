// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Command server runs the event distribution server: the websocket hub,
// the NDJSON stream and publish endpoints, and the NATS bridge, all under
// one supervisor tree.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apotheca-labs/pharmsync/internal/api"
	"github.com/apotheca-labs/pharmsync/internal/auth"
	"github.com/apotheca-labs/pharmsync/internal/bridge"
	"github.com/apotheca-labs/pharmsync/internal/config"
	"github.com/apotheca-labs/pharmsync/internal/hub"
	"github.com/apotheca-labs/pharmsync/internal/logging"
	"github.com/apotheca-labs/pharmsync/internal/registry"
	"github.com/apotheca-labs/pharmsync/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Bool("nats", cfg.NATS.Enabled).
		Msg("starting pharmsync server")

	verifier, err := auth.NewVerifier(cfg.Security.JWTSecret)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid JWT configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.New(registry.New(), hub.Config{
		SendBuffer:  cfg.Hub.SendBuffer,
		PingPeriod:  cfg.Hub.PingPeriod,
		PongTimeout: cfg.Hub.PongTimeout,
	})
	router := api.NewRouter(cfg, h, verifier)
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(supervisor.RunFunc{Name: "hub", Fn: h.Run})

	// Bridge: backend events arrive over NATS and fan out through the hub.
	if cfg.NATS.Enabled {
		natsURL := cfg.NATS.URL
		if cfg.NATS.EmbeddedServer {
			embedded, err := bridge.NewEmbeddedServer(bridge.EmbeddedServerConfig{})
			if err != nil {
				logging.Fatal().Err(err).Msg("failed to start embedded NATS server")
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logging.Error().Err(err).Msg("embedded NATS shutdown")
				}
			}()
			natsURL = embedded.ClientURL()
			logging.Info().Str("url", natsURL).Msg("embedded NATS server started")
		}

		sub, err := bridge.NewNATSSubscriber(bridge.SubscriberConfig{
			URL:        natsURL,
			Topic:      cfg.NATS.Topic,
			QueueGroup: cfg.NATS.QueueGroup,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create NATS subscriber")
		}
		b := bridge.New(sub, h, cfg.NATS.Topic)
		defer func() {
			if err := b.Close(); err != nil {
				logging.Error().Err(err).Msg("bridge close")
			}
		}()
		tree.AddMessagingService(supervisor.RunFunc{Name: "bridge", Fn: b.Serve})
		router.SetMessagingProbe(b.Consuming)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		// No blanket write timeout: /ws and /api/v1/stream are long-lived.
		IdleTimeout: 120 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.Timeout))

	errCh := tree.ServeBackground(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
		if err := <-errCh; err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("supervisor stopped with error")
		}
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logging.Fatal().Err(err).Msg("supervisor tree failed")
		}
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service missed shutdown timeout")
		}
	}

	logging.Info().Msg("server stopped")
}
