// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/vigil/internal/models"
)

// frame mirrors Message with raw data for assertions.
type frame struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// streamServer upgrades every request into a hub client.
func streamServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, "analyst")
		hub.Register <- client
		client.Start()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.GetClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_PingPong(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, streamServer(t, hub))

	send(t, conn, map[string]string{"type": MessageTypePing})
	if got := read(t, conn); got.Type != MessageTypePong {
		t.Errorf("reply type = %q, want pong", got.Type)
	}
}

func TestClient_SubscribeFiltersStream(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, streamServer(t, hub))
	waitClients(t, hub, 1)

	send(t, conn, map[string]interface{}{
		"type": MessageTypeSubscribe,
		"data": map[string]interface{}{"min_severity": "critical"},
	})
	ack := read(t, conn)
	if ack.Type != MessageTypeSubscribed {
		t.Fatalf("reply type = %q, want subscribed", ack.Type)
	}
	var sub Subscription
	if err := json.Unmarshal(ack.Data, &sub); err != nil || sub.MinSeverity != models.SeverityCritical {
		t.Fatalf("subscribed data = %s (%v)", ack.Data, err)
	}

	hub.BroadcastJSON("security_alert", &models.SecurityAlert{ID: "low", Type: models.AlertTypeAPIAbuse, Severity: models.SeverityWarning})
	hub.BroadcastJSON("security_alert", &models.SecurityAlert{ID: "high", Type: models.AlertTypeCardTesting, Severity: models.SeverityCritical})

	got := read(t, conn)
	var a models.SecurityAlert
	if err := json.Unmarshal(got.Data, &a); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if a.ID != "high" {
		t.Errorf("first delivered alert = %q, want high", a.ID)
	}
	if got.Seq != 2 {
		t.Errorf("seq = %d, want 2 (the filtered alert still consumed seq 1)", got.Seq)
	}
}

func TestClient_InvalidSubscriptionIgnored(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, streamServer(t, hub))
	waitClients(t, hub, 1)

	send(t, conn, map[string]interface{}{
		"type": MessageTypeSubscribe,
		"data": map[string]interface{}{"min_severity": "apocalyptic"},
	})
	send(t, conn, map[string]string{"type": MessageTypePing})

	if got := read(t, conn); got.Type != MessageTypePong {
		t.Errorf("reply type = %q, want pong (bad subscription gets no reply)", got.Type)
	}
}

func TestClient_DisconnectUnregisters(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, streamServer(t, hub))
	waitClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitClients(t, hub, 0)
}

func TestClient_Wants(t *testing.T) {
	c := &Client{}
	c.Subscribe(Subscription{Types: []models.AlertType{models.AlertTypeSQLInjection, models.AlertTypeXSSAttempt}})

	if !c.wants(outbound{severity: models.SeverityInfo, alertType: models.AlertTypeXSSAttempt}) {
		t.Error("listed type should pass")
	}
	if c.wants(outbound{severity: models.SeverityEmergency, alertType: models.AlertTypeBruteForce}) {
		t.Error("unlisted type should be filtered")
	}
	if !c.wants(outbound{}) {
		t.Error("non-alert payload should always pass")
	}
}
