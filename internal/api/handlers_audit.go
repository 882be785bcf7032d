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

	"github.com/tomtom215/vigil/internal/archive"
	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

// maxExportEvents bounds one audit export.
const maxExportEvents = 10000

// parseAuditFilter reads the audit query parameters: type, severity and
// outcome lists, actor_id, target_id, target_type, source_ip, request_id,
// q (free text), since and until.
func (h *Handler) parseAuditFilter(r *http.Request) (audit.QueryFilter, map[string]string) {
	q := r.URL.Query()
	f := audit.DefaultQueryFilter()
	fields := map[string]string{}

	for _, t := range splitList(q.Get("type")) {
		f.Types = append(f.Types, audit.EventType(t))
	}
	for _, s := range splitList(q.Get("severity")) {
		f.Severities = append(f.Severities, audit.Severity(s))
	}
	for _, o := range splitList(q.Get("outcome")) {
		f.Outcomes = append(f.Outcomes, audit.Outcome(o))
	}
	f.ActorID = q.Get("actor_id")
	f.TargetID = q.Get("target_id")
	f.TargetType = q.Get("target_type")
	f.SourceIP = q.Get("source_ip")
	f.RequestID = q.Get("request_id")
	f.SearchText = q.Get("q")

	if since, err := parseTimeParam(r, "since"); err != nil {
		fields["since"] = err.Error()
	} else if !since.IsZero() {
		f.StartTime = &since
	}
	if until, err := parseTimeParam(r, "until"); err != nil {
		fields["until"] = err.Error()
	} else if !until.IsZero() {
		f.EndTime = &until
	}

	limit, offset, err := h.pagination(r)
	if err != nil {
		fields["pagination"] = err.Error()
	}
	f.Limit = limit
	f.Offset = offset
	return f, fields
}

// AuditEvents handles GET /audit.
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	filter, fields := h.parseAuditFilter(r)
	if len(fields) > 0 {
		NewResponseWriter(w, r).ValidationError("invalid query parameters", fields)
		return
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		respondDomainError(w, r, err, "could not query audit log")
		return
	}
	countFilter := filter
	countFilter.Limit, countFilter.Offset = 0, 0
	total, err := h.audit.Count(r.Context(), countFilter)
	if err != nil {
		respondDomainError(w, r, err, "could not query audit log")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	NewResponseWriter(w, r).SuccessWithPagination(events, paginationMeta(total, len(events), filter.Limit, filter.Offset))
}

// AuditEvent handles GET /audit/{id}.
func (h *Handler) AuditEvent(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	event, err := h.audit.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err, "could not load audit event")
		return
	}
	NewResponseWriter(w, r).Success(event)
}

// ExportAudit handles GET /audit/export?format=json|cef. The body is the raw
// export, not the JSON envelope, so that it can be fed to a SIEM directly.
func (h *Handler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}

	exporter, err := audit.ExporterFor(r.URL.Query().Get("format"))
	if err != nil {
		NewResponseWriter(w, r).ValidationError("invalid query parameters",
			map[string]string{"format": sanitizeLogValue(err.Error())})
		return
	}

	filter, fields := h.parseAuditFilter(r)
	if len(fields) > 0 {
		NewResponseWriter(w, r).ValidationError("invalid query parameters", fields)
		return
	}
	filter.Limit = maxExportEvents
	filter.Offset = 0

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		respondDomainError(w, r, err, "could not query audit log")
		return
	}
	body, err := exporter.Export(events)
	if err != nil {
		respondDomainError(w, r, err, "")
		return
	}

	h.audit.Log(&audit.Event{
		Type:        audit.EventTypeExport,
		Severity:    audit.SeverityInfo,
		Outcome:     audit.OutcomeSuccess,
		Actor:       h.actorFrom(r),
		Source:      audit.SourceFromRequest(r),
		Action:      "export",
		Description: fmt.Sprintf("Exported %d audit events", len(events)),
		RequestID:   logging.RequestIDFromContext(r.Context()),
	})

	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="vigil-audit-%s.%s"`, time.Now().UTC().Format("20060102T150405Z"), exporter.Extension()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Audit export write failed")
	}
}

// ArchivedAlerts handles GET /archive. Query parameters: type, source_ip,
// user_id, since, until, limit and offset.
func (h *Handler) ArchivedAlerts(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	q := r.URL.Query()
	fields := map[string]string{}

	f := archive.Filter{
		SourceIP: q.Get("source_ip"),
		UserID:   q.Get("user_id"),
	}
	if t := models.AlertType(q.Get("type")); t != "" {
		if !t.Valid() {
			fields["type"] = fmt.Sprintf("unknown alert type %q", sanitizeLogValue(string(t)))
		}
		f.Type = t
	}
	var err error
	if f.Since, err = parseTimeParam(r, "since"); err != nil {
		fields["since"] = err.Error()
	}
	if f.Until, err = parseTimeParam(r, "until"); err != nil {
		fields["until"] = err.Error()
	}
	if f.Limit, f.Offset, err = h.pagination(r); err != nil {
		fields["pagination"] = err.Error()
	}
	if len(fields) > 0 {
		NewResponseWriter(w, r).ValidationError("invalid query parameters", fields)
		return
	}

	list, err := h.archive.Query(r.Context(), f)
	if err != nil {
		respondDomainError(w, r, err, "could not query archive")
		return
	}
	total, err := h.archive.Count(r.Context(), f)
	if err != nil {
		respondDomainError(w, r, err, "could not query archive")
		return
	}
	if list == nil {
		list = []*models.SecurityAlert{}
	}
	NewResponseWriter(w, r).SuccessWithPagination(list, paginationMeta(total, len(list), f.Limit, f.Offset))
}
