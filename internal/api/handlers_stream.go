// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
	ws "github.com/tomtom215/vigil/internal/websocket"
)

// registerTimeout bounds the hand-off of a new client to the hub loop.
const registerTimeout = 5 * time.Second

// parseSubscription reads the initial stream filter from min_severity and
// types. Clients can change it later with a subscribe frame.
func parseSubscription(r *http.Request) (ws.Subscription, map[string]string) {
	q := r.URL.Query()
	fields := map[string]string{}
	var sub ws.Subscription

	if v := q.Get("min_severity"); v != "" {
		sev := models.Severity(v)
		if !sev.Valid() {
			fields["min_severity"] = fmt.Sprintf("unknown severity %q", sanitizeLogValue(v))
		}
		sub.MinSeverity = sev
	}
	for _, s := range splitList(q.Get("types")) {
		t := models.AlertType(s)
		if !t.Valid() {
			fields["types"] = fmt.Sprintf("unknown alert type %q", sanitizeLogValue(s))
			continue
		}
		sub.Types = append(sub.Types, t)
	}
	return sub, fields
}

// AlertStream handles GET /alerts/stream, the live alert WebSocket.
func (h *Handler) AlertStream(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	sub, fields := parseSubscription(r)
	if len(fields) > 0 {
		NewResponseWriter(w, r).ValidationError("invalid query parameters", fields)
		return
	}

	subject := "anonymous"
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		subject = p.Subject
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(h.wsHub, conn, subject)
	client.Subscribe(sub)

	select {
	case h.wsHub.Register <- client:
	case <-time.After(registerTimeout):
		logging.Ctx(r.Context()).Error().Msg("WebSocket hub not accepting clients")
		//nolint:errcheck // connection is being abandoned
		conn.Close()
		return
	}
	client.Start()

	logging.Ctx(r.Context()).Debug().
		Uint64("client_id", client.ID()).
		Str("min_severity", string(sub.MinSeverity)).
		Int("types", len(sub.Types)).
		Msg("Stream client connected")
}

// Inbox handles GET /inbox: the caller's in-app notifications, newest first.
// unread=true hides read items.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	limit, _, err := h.pagination(r)
	if err != nil {
		NewResponseWriter(w, r).ValidationError("invalid query parameters", map[string]string{"pagination": err.Error()})
		return
	}

	items, err := h.inbox.List(r.Context(), recipientFrom(r), r.URL.Query().Get("unread") == "true", limit)
	if err != nil {
		respondDomainError(w, r, err, "could not load inbox")
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// MarkInboxRead handles POST /inbox/{id}/read.
func (h *Handler) MarkInboxRead(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	id := chi.URLParam(r, "id")
	found, err := h.inbox.MarkRead(r.Context(), recipientFrom(r), id)
	if err != nil {
		respondDomainError(w, r, err, "could not update inbox")
		return
	}
	if !found {
		NewResponseWriter(w, r).NotFound("inbox item not found")
		return
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{"id": id, "read": true})
}

// recipientFrom maps the caller to an inbox recipient id.
func recipientFrom(r *http.Request) string {
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		return p.Subject
	}
	return "anonymous"
}
