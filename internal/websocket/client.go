// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// clientIDCounter gives every client a monotonically increasing id so
// broadcasts iterate in a stable order.
var clientIDCounter atomic.Uint64

// Subscription narrows what a client receives. MinSeverity and Types only
// apply to alert payloads; an empty Types list means every type.
type Subscription struct {
	MinSeverity models.Severity    `json:"min_severity,omitempty"`
	Types       []models.AlertType `json:"types,omitempty"`
}

// inbound is a client frame; Data is decoded per Type.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message
	subject string

	mu  sync.RWMutex
	sub Subscription
}

// NewClient creates a client for an authenticated subject.
func NewClient(hub *Hub, conn *websocket.Conn, subject string) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, 256),
		subject: subject,
	}
}

// ID returns the client's identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Subscribe replaces the client's filter.
func (c *Client) Subscribe(sub Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// wants reports whether out passes the client's filter.
func (c *Client) wants(out outbound) bool {
	if out.severity == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sub.MinSeverity != "" && !out.severity.AtLeast(c.sub.MinSeverity) {
		return false
	}
	if len(c.sub.Types) == 0 {
		return true
	}
	for _, t := range c.sub.Types {
		if t == out.alertType {
			return true
		}
	}
	return false
}

// handle processes one client frame. Unknown types are ignored.
func (c *Client) handle(in inbound) {
	switch in.Type {
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
	case MessageTypeSubscribe:
		var sub Subscription
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &sub); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("Invalid stream subscription")
				return
			}
		}
		if sub.MinSeverity != "" && !sub.MinSeverity.Valid() {
			logging.Debug().Str("min_severity", string(sub.MinSeverity)).Uint64("client_id", c.id).Msg("Unknown severity in subscription")
			return
		}
		c.Subscribe(sub)
		c.reply(Message{Type: MessageTypeSubscribed, Timestamp: time.Now().UTC(), Data: sub})
	}
}

// reply queues a control message without blocking the read loop.
func (c *Client) reply(msg Message) {
	defer func() {
		// send may already be closed by the hub.
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

// readPump reads client frames until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("Unexpected alert stream close")
			}
			return
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		c.handle(in)
	}
}

// writePump writes hub messages and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := MarshalMessage(message)
			if err != nil {
				logging.Error().Err(err).Str("message_type", message.Type).Msg("failed to encode stream message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// Start begins reading and writing for the client. Register it with the
// hub first.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
