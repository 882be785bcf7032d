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

	"github.com/tomtom215/vigil/internal/models"
)

// entityFromPath reads {type} and {id} and normalizes the id the same way
// the pipeline does when it records scores.
func entityFromPath(r *http.Request) (models.EntityRef, map[string]string) {
	t := models.EntityType(chi.URLParam(r, "type"))
	id := chi.URLParam(r, "id")

	fields := map[string]string{}
	if !t.Valid() {
		fields["type"] = fmt.Sprintf("unknown entity type %q", sanitizeLogValue(string(t)))
	}
	if id == "" {
		fields["id"] = "entity id is required"
	}
	if t == models.EntityIP {
		id = models.NormalizeIdentity(id)
	}
	return models.EntityRef{Type: t, ID: id}, fields
}

// CheckBlocked handles GET /blocked/{type}/{id}.
func (h *Handler) CheckBlocked(w http.ResponseWriter, r *http.Request) {
	if h.threats == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	entity, fields := entityFromPath(r)
	if len(fields) > 0 {
		NewResponseWriter(w, r).ValidationError("invalid entity", fields)
		return
	}

	status, err := h.threats.CheckBlocked(r.Context(), entity)
	if err != nil {
		respondDomainError(w, r, err, "could not check block status")
		return
	}
	NewResponseWriter(w, r).Success(status)
}

// ListBlocked handles GET /blocked. within bounds the "recent" counters of
// the summary and defaults to 24h.
func (h *Handler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	if h.threats == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	within := 24 * time.Hour
	if v := r.URL.Query().Get("within"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			NewResponseWriter(w, r).ValidationError("invalid query parameters",
				map[string]string{"within": "within must be a positive duration"})
			return
		}
		within = d
	}

	list, err := h.threats.ListBlocked(r.Context())
	if err != nil {
		respondDomainError(w, r, err, "could not list blocked entities")
		return
	}
	stats, err := h.threats.BlockedStats(r.Context(), within)
	if err != nil {
		respondDomainError(w, r, err, "could not list blocked entities")
		return
	}
	if list == nil {
		list = []*models.BlockedEntity{}
	}
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"entities": list,
		"summary":  stats,
	})
}

// ThreatScore handles GET /threat/{type}/{id}. The score is evaluated with
// decay at request time and nothing is written.
func (h *Handler) ThreatScore(w http.ResponseWriter, r *http.Request) {
	if h.threats == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	entity, fields := entityFromPath(r)
	if len(fields) > 0 {
		NewResponseWriter(w, r).ValidationError("invalid entity", fields)
		return
	}

	score, err := h.threats.GetScore(r.Context(), entity, time.Now())
	if err != nil {
		respondDomainError(w, r, err, "could not load threat score")
		return
	}
	NewResponseWriter(w, r).Success(score)
}
