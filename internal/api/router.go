// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package api provides HTTP routing with chi: the websocket upgrade
// endpoint, the NDJSON stream fallback, the internal publish ingress,
// and the health and metrics surfaces.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apotheca-labs/pharmsync/internal/auth"
	"github.com/apotheca-labs/pharmsync/internal/config"
	"github.com/apotheca-labs/pharmsync/internal/hub"
)

// Router wires handlers and middleware into the HTTP surface.
type Router struct {
	cfg     *config.Config
	handler *Handler
}

// NewRouter builds the router for the given hub and verifier.
func NewRouter(cfg *config.Config, h *hub.Hub, verifier *auth.Verifier) *Router {
	return &Router{
		cfg:     cfg,
		handler: NewHandler(cfg, h, verifier),
	}
}

// SetMessagingProbe forwards a bus-connectivity check to the health
// handler.
func (router *Router) SetMessagingProbe(probe func() bool) {
	router.handler.SetMessagingProbe(probe)
}

// Setup returns the complete handler tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/ws", router.handler.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		if router.cfg.Security.RateLimitReqs > 0 {
			r.Use(httprate.Limit(
				router.cfg.Security.RateLimitReqs,
				router.cfg.Security.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}

		r.Get("/stream", router.handler.Stream)
		r.Post("/events", router.handler.PublishEvent)
	})

	return r
}
