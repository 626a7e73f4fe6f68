// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/apotheca-labs/pharmsync/internal/event"
	"github.com/apotheca-labs/pharmsync/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// controlMessage is the only client-to-server frame the hub understands.
type controlMessage struct {
	Type string `json:"type"`
}

const (
	controlPing = "ping"
	controlPong = "pong"
)

// Client is the middleman between one websocket connection and the hub.
// Its identity and claims come from the validated bearer token presented
// at upgrade time.
type Client struct {
	id       string
	tenantID string
	role     event.Role
	userID   string

	hub  *Hub
	conn *websocket.Conn
	send chan event.Envelope

	// pong signals writePump to answer a client ping. writePump is the
	// connection's only writer; readPump must never touch conn directly.
	pong chan struct{}
}

// NewClient creates a client for an upgraded connection. The connection id
// is assigned here and is opaque to callers.
func NewClient(h *Hub, conn *websocket.Conn, tenantID string, role event.Role, userID string) *Client {
	return &Client{
		id:       uuid.New().String(),
		tenantID: tenantID,
		role:     role,
		userID:   userID,
		hub:      h,
		conn:     conn,
		send:     make(chan event.Envelope, h.cfg.SendBuffer),
		pong:     make(chan struct{}, 1),
	}
}

// ID returns the client's connection id.
func (c *Client) ID() string {
	return c.id
}

// Start begins the read and write pumps. Must be called exactly once,
// after the client has been handed to hub.Register.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes frames from the websocket until the connection dies,
// then unregisters the client. The hub only reacts to ping control frames;
// everything else from the client is ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	})

	for {
		var msg controlMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("conn_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		if msg.Type == controlPing {
			// A pending pong already answers this ping.
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}

// writePump forwards hub envelopes to the websocket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				logging.Error().Err(err).Str("conn_id", c.id).Msg("failed to write event")
				return
			}

		case <-c.pong:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(controlMessage{Type: controlPong}); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
