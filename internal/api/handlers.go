// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/apotheca-labs/pharmsync/internal/auth"
	"github.com/apotheca-labs/pharmsync/internal/config"
	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/hub"
	"github.com/apotheca-labs/pharmsync/internal/logging"
)

// maxPublishBodyBytes bounds the publish ingress request body.
const maxPublishBodyBytes = 256 * 1024

// Handler serves the HTTP endpoints.
type Handler struct {
	cfg            *config.Config
	hub            *hub.Hub
	verifier       *auth.Verifier
	validate       *validator.Validate
	messagingProbe func() bool
}

// NewHandler creates the handler set.
func NewHandler(cfg *config.Config, h *hub.Hub, verifier *auth.Verifier) *Handler {
	return &Handler{
		cfg:      cfg,
		hub:      h,
		verifier: verifier,
		validate: validator.New(),
	}
}

// SetMessagingProbe wires an optional bus-connectivity check into the
// health report. Deployments without NATS leave it unset.
func (h *Handler) SetMessagingProbe(probe func() bool) {
	h.messagingProbe = probe
}

// Health reports liveness, the current connection count, and bus
// connectivity when messaging is enabled.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"clients": h.hub.ClientCount(),
	}
	if h.messagingProbe != nil {
		if h.messagingProbe() {
			body["messaging"] = "connected"
		} else {
			body["messaging"] = "disconnected"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// upgrader builds the websocket upgrader with origin checking.
func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin validates the Origin header against the configured CORS
// origins. Requests without an Origin header are allowed: browsers always
// send one, so its absence means a non-browser client that cannot be
// confused-deputied by a hostile page.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().
		Str("origin", origin).
		Msg("websocket upgrade rejected from unauthorized origin")
	return false
}

// WebSocket authenticates the bearer token, upgrades the connection, and
// hands it to the hub. The token's tenant and role decide which fan-out
// groups the connection joins; the client has no say in it.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.VerifyRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(h.hub, conn, claims.TenantID, claims.Role, claims.UserID)
	h.hub.Register <- client
	client.Start()

	logging.Ctx(r.Context()).Info().
		Str("conn_id", client.ID()).
		Str("tenant", claims.TenantID).
		Str("role", string(claims.Role)).
		Msg("websocket client connected")
}

// Stream serves the NDJSON fallback transport: one envelope per line over
// a chunked response that stays open until the client goes away or the
// hub drops the subscriber.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.VerifyRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := h.hub.Attach(claims.TenantID, claims.Role, claims.UserID)
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logging.Ctx(r.Context()).Info().
		Str("conn_id", sub.ID()).
		Str("tenant", claims.TenantID).
		Msg("stream client connected")

	for {
		select {
		case <-r.Context().Done():
			return
		case env, open := <-sub.Events():
			if !open {
				return
			}
			data, err := env.Marshal()
			if err != nil {
				logging.Error().Err(err).Msg("marshal stream envelope")
				continue
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// publishRequest is the ingress DTO for backend services pushing events
// into the distribution fabric.
type publishRequest struct {
	Kind    event.Kind      `json:"kind" validate:"required"`
	Scope   event.Scope     `json:"scope"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// publishResponse reports the fan-out attempt count for the event.
type publishResponse struct {
	EventID   string `json:"event_id"`
	Attempted int    `json:"attempted"`
}

// PublishEvent accepts a validated event from a backend service and fans
// it out. Super-admin and operations tokens may publish to any scope;
// other roles are confined to their own tenant.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.VerifyRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPublishBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	var req publishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	env := event.Envelope{
		ID:        uuid.New().String(),
		Kind:      req.Kind,
		Scope:     req.Scope,
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
	}
	if err := env.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := env.Decode(); err != nil {
		writeError(w, http.StatusBadRequest, "payload does not match kind")
		return
	}
	if !h.mayPublish(claims, env.Scope) {
		writeError(w, http.StatusForbidden, "scope not permitted for this token")
		return
	}

	attempted := h.hub.Publish(env)
	writeJSON(w, http.StatusAccepted, publishResponse{
		EventID:   env.ID,
		Attempted: attempted,
	})
}

// mayPublish confines tenant-bound tokens to their own tenant's scope.
func (h *Handler) mayPublish(claims *auth.Claims, scope event.Scope) bool {
	switch claims.Role {
	case event.RoleSuperAdmin, event.RoleOperations:
		return true
	}
	return scope.Type == event.ScopeTenant && scope.Tenant == claims.TenantID
}
