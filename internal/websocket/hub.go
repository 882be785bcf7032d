// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package websocket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Control message types exchanged with clients. Alert payload types are
// chosen by the publisher (see alerts.MessageAlertCreated).
const (
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeSubscribe  = "subscribe"
	MessageTypeSubscribed = "subscribed"
)

// Message is one frame on the alert stream. Seq increases by one per
// broadcast; control replies carry no Seq.
type Message struct {
	Type      string      `json:"type"`
	Seq       uint64      `json:"seq,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// outbound pairs a message with the routing attributes used by client filters.
type outbound struct {
	msg       Message
	severity  models.Severity
	alertType models.AlertType
}

// Hub maintains the set of connected stream clients and fans broadcasts out
// to those whose subscription matches.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
	seq        atomic.Uint64
	dropped    atomic.Uint64
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan outbound, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub until ctx is canceled, then closes every
// client. Lifecycle events are drained before broadcasts so a client that
// just registered receives the next message.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case out := <-h.broadcast:
			h.broadcastToClients(out)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("Alert stream client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("Alert stream client disconnected")
}

// shutdown closes all clients and logs why. ctx.Err() is expected here and
// is not logged as an error.
func (h *Hub) shutdown(ctx context.Context) {
	n := h.GetClientCount()
	h.closeAllClients()
	metrics.WebSocketConnections.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", n).
		Msg("Alert stream hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClients returns clients in id order. Caller holds h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// broadcastToClients delivers out to matching clients in id order. A client
// whose buffer is full is disconnected rather than allowed to stall the hub.
func (h *Hub) broadcastToClients(out outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	for _, client := range h.sortedClients() {
		if !client.wants(out) {
			continue
		}
		select {
		case client.send <- out.msg:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("Alert stream client too slow, disconnected")
	}
	if len(slow) > 0 {
		metrics.WebSocketConnections.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.sortedClients() {
		close(client.send)
		delete(h.clients, client)
	}
}

// BroadcastJSON queues data for every subscribed client. Alerts are routed
// by severity and type; other payloads reach every client. The message is
// dropped when the queue is full.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	out := outbound{msg: Message{Type: messageType, Timestamp: time.Now().UTC(), Data: data}}
	switch v := data.(type) {
	case *models.SecurityAlert:
		out.severity = v.Severity
		out.alertType = v.Type
	case models.SecurityAlert:
		out.severity = v.Severity
		out.alertType = v.Type
	}

	// A dropped message still consumes a sequence number, leaving a gap.
	out.msg.Seq = h.seq.Add(1)

	select {
	case h.broadcast <- out:
	default:
		h.dropped.Add(1)
		metrics.StreamDropped.Inc()
		logging.Warn().Str("message_type", messageType).Msg("Alert stream queue full, dropping message")
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were discarded on a full queue.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// MarshalMessage converts a message to JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
