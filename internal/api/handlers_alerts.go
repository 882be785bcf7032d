// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/vigil/internal/alerts"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

const statusUnavailableMsg = "could not update status"

// StatusRequest is the body of PATCH /alerts/{id}/status.
type StatusRequest struct {
	Status models.Status `json:"status" validate:"required,alert_status"`
	Note   string        `json:"note,omitempty" validate:"max=2000"`
}

// NoteRequest is the optional body of acknowledge and resolve.
type NoteRequest struct {
	Note string `json:"note,omitempty" validate:"max=2000"`
}

// BatchRequest is the body of POST /alerts/batch.
type BatchRequest struct {
	Alerts []*models.AlertPayload `json:"alerts" validate:"required,min=1"`
}

// ListAlerts handles GET /alerts.
//
// Query parameters: status, severity and type take comma separated lists;
// category, source, since and until (RFC 3339), limit and offset.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, fields := parseAlertFilter(r)
	limit, offset, err := h.pagination(r)
	if err != nil {
		fields["pagination"] = err.Error()
	}
	if len(fields) > 0 {
		rw.ValidationError("invalid query parameters", fields)
		return
	}

	list, total, err := h.alerts.ListAlerts(r.Context(), filter, limit, offset)
	if err != nil {
		respondDomainError(w, r, err, "could not list alerts")
		return
	}
	if list == nil {
		list = []*models.SecurityAlert{}
	}
	rw.SuccessWithPagination(list, paginationMeta(int64(total), len(list), limit, offset))
}

// parseAlertFilter reads the alert filter from the query. Invalid values are
// returned keyed by parameter name.
func parseAlertFilter(r *http.Request) (store.AlertFilter, map[string]string) {
	q := r.URL.Query()
	fields := map[string]string{}
	var f store.AlertFilter

	for _, s := range splitList(q.Get("status")) {
		st := models.Status(s)
		if !st.Valid() {
			fields["status"] = fmt.Sprintf("unknown status %q", sanitizeLogValue(s))
			continue
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range splitList(q.Get("severity")) {
		sev := models.Severity(s)
		if !sev.Valid() {
			fields["severity"] = fmt.Sprintf("unknown severity %q", sanitizeLogValue(s))
			continue
		}
		f.Severities = append(f.Severities, sev)
	}
	for _, s := range splitList(q.Get("type")) {
		t := models.AlertType(s)
		if !t.Valid() {
			fields["type"] = fmt.Sprintf("unknown alert type %q", sanitizeLogValue(s))
			continue
		}
		f.Types = append(f.Types, t)
	}
	f.Category = models.Category(q.Get("category"))
	f.Source = q.Get("source")

	var err error
	if f.Since, err = parseTimeParam(r, "since"); err != nil {
		fields["since"] = err.Error()
	}
	if f.Until, err = parseTimeParam(r, "until"); err != nil {
		fields["until"] = err.Error()
	}
	return f, fields
}

// GetAlert handles GET /alerts/{id}. Alerts that have left the hot store are
// served from the archive.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alert, err := h.alerts.GetAlert(r.Context(), id)
	if errors.Is(err, models.ErrAlertNotFound) && h.archive != nil {
		alert, err = h.archive.Get(r.Context(), id)
	}
	if err != nil {
		respondDomainError(w, r, err, "could not load alert")
		return
	}
	NewResponseWriter(w, r).Success(alert)
}

// CreateAlert handles POST /alerts. A new alert answers 201; an aggregated
// or duplicate submission answers 200 with the existing alert id.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var payload models.AlertPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	res, err := h.alerts.CreateSecurityAlert(r.Context(), &payload)
	if err != nil {
		respondDomainError(w, r, err, "could not create alert")
		return
	}

	rw := NewResponseWriter(w, r)
	if res.Created {
		rw.Created(res)
		return
	}
	rw.Success(res)
}

// CreateAlertsBatch handles POST /alerts/batch. Items fail independently;
// the response lists each outcome by index.
func (h *Handler) CreateAlertsBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}

	res, err := h.alerts.CreateSecurityAlertsBatch(r.Context(), req.Alerts)
	if err != nil {
		respondDomainError(w, r, err, "could not create alerts")
		return
	}
	NewResponseWriter(w, r).Success(res)
}

// AcknowledgeAlert handles POST /alerts/{id}/acknowledge.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.StatusAcknowledged)
}

// ResolveAlert handles POST /alerts/{id}/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.StatusResolved)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, status models.Status) {
	var req NoteRequest
	if !decodeOptionalJSON(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	h.updateStatus(w, r, status, req.Note)
}

// UpdateAlertStatus handles PATCH /alerts/{id}/status.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	h.updateStatus(w, r, req.Status, req.Note)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, status models.Status, note string) {
	alert, err := h.alerts.UpdateAlertStatus(r.Context(), chi.URLParam(r, "id"), status, h.actorFrom(r), note)
	if err != nil {
		respondDomainError(w, r, err, statusUnavailableMsg)
		return
	}
	NewResponseWriter(w, r).Success(alert)
}

// PerformAction handles POST /alerts/{id}/actions. The alert id in the path
// wins over one in the body.
func (h *Handler) PerformAction(w http.ResponseWriter, r *http.Request) {
	var req alerts.ActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AlertID = chi.URLParam(r, "id")
	h.performAction(w, r, req)
}

// PerformEntityAction handles POST /actions: block, unblock, suspend and
// unsuspend without an originating alert.
func (h *Handler) PerformEntityAction(w http.ResponseWriter, r *http.Request) {
	var req alerts.ActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.performAction(w, r, req)
}

//nolint:gocritic // hugeParam: ActionRequest passed by value for API simplicity
func (h *Handler) performAction(w http.ResponseWriter, r *http.Request, req alerts.ActionRequest) {
	if !validateRequest(w, r, &req) {
		return
	}
	res, err := h.alerts.PerformAction(r.Context(), req, h.actorFrom(r))
	if err != nil {
		respondDomainError(w, r, err, "could not perform action")
		return
	}
	NewResponseWriter(w, r).Success(res)
}

// Stats handles GET /stats. period is a Go duration such as 24h; it defaults
// to the configured stats period.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	period := h.alerts.Config().StatsPeriod
	if v := r.URL.Query().Get("period"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			NewResponseWriter(w, r).ValidationError("invalid query parameters",
				map[string]string{"period": "period must be a positive duration such as 24h"})
			return
		}
		period = d
	}

	stats, err := h.alerts.GetStats(r.Context(), period)
	if err != nil {
		respondDomainError(w, r, err, "could not compute stats")
		return
	}
	NewResponseWriter(w, r).Success(stats)
}
