// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/alerts"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/eventprocessor"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// MaintenanceAll runs every maintenance task in one request.
const MaintenanceAll = "all"

// EscalationRequest is the optional body of POST /escalations/{alertId}/process.
type EscalationRequest struct {
	// Level is the schedule level to fire. Zero uses the alert's current
	// schedule.
	Level int `json:"level,omitempty" validate:"min=0,max=16"`
}

// ProcessEscalation handles POST /escalations/{alertId}/process. It runs the
// same transition the deferred task runs, so replaying a fired level is a
// no-op.
func (h *Handler) ProcessEscalation(w http.ResponseWriter, r *http.Request) {
	if h.escalation == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	var req EscalationRequest
	if !decodeOptionalJSON(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}

	alertID := chi.URLParam(r, "alertId")
	level := req.Level
	if level == 0 {
		sched, err := h.escalation.Get(r.Context(), alertID)
		if errors.Is(err, store.ErrNotFound) {
			NewResponseWriter(w, r).NotFound("alert has no escalation schedule")
			return
		}
		if err != nil {
			respondDomainError(w, r, err, "could not load escalation")
			return
		}
		level = sched.Level
	}

	out, err := h.escalation.ProcessEscalation(r.Context(), alertID, level)
	if err != nil {
		respondDomainError(w, r, err, "could not process escalation")
		return
	}
	h.audit.LogEscalationForced(r.Context(), h.actorFrom(r), alertID, level, out.Result)
	NewResponseWriter(w, r).Success(out)
}

// GetEscalation handles GET /escalations/{alertId}.
func (h *Handler) GetEscalation(w http.ResponseWriter, r *http.Request) {
	if h.escalation == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	sched, err := h.escalation.Get(r.Context(), chi.URLParam(r, "alertId"))
	if err != nil {
		respondDomainError(w, r, err, "could not load escalation")
		return
	}
	NewResponseWriter(w, r).Success(sched)
}

// EscalationStats handles GET /escalations.
func (h *Handler) EscalationStats(w http.ResponseWriter, r *http.Request) {
	if h.escalation == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	stats, err := h.escalation.Stats(r.Context(), time.Now())
	if err != nil {
		respondDomainError(w, r, err, "could not load escalation stats")
		return
	}
	NewResponseWriter(w, r).Success(stats)
}

// RunMaintenance handles POST /maintenance/{task}. task is one of the
// maintenance task names or "all". A failed task answers 500 with the report
// in the error details.
func (h *Handler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")
	actor := h.actorFrom(r)
	rw := NewResponseWriter(w, r)

	if task == MaintenanceAll {
		report, err := h.alerts.RunMaintenance(r.Context())
		h.audit.LogMaintenance(r.Context(), actor, task, map[string]interface{}{"failed": report.Failed()})
		if err != nil {
			rw.ErrorWithDetails(http.StatusInternalServerError, ErrCodeInternalError, "maintenance failed", report)
			return
		}
		rw.Success(report)
		return
	}

	report, err := h.alerts.RunTask(r.Context(), task)
	if errors.Is(err, models.ErrValidation) {
		respondDomainError(w, r, err, "")
		return
	}
	h.audit.LogMaintenance(r.Context(), actor, task, map[string]interface{}{
		"processed": report.Processed,
		"error":     report.Error,
	})
	if err != nil {
		rw.ErrorWithDetails(http.StatusInternalServerError, ErrCodeInternalError, "maintenance failed", report)
		return
	}
	rw.Success(report)
}

// MaintenanceTasks handles GET /maintenance.
func (h *Handler) MaintenanceTasks(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"tasks": append([]string{MaintenanceAll}, alerts.MaintenanceTasks...),
	})
}

// SubmitSignal handles POST /signals. With a publisher the signal is queued
// on the signal topic and the response is 202; otherwise the detectors run
// inline and the outcome is returned.
func (h *Handler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var sig detection.Signal
	if !decodeJSON(w, r, &sig) || !validateRequest(w, r, &sig) {
		return
	}
	if !sig.Kind.Valid() {
		respondDomainError(w, r, models.NewValidationError("kind", "unknown signal kind"), "")
		return
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}

	if h.publisher != nil {
		err := h.publisher.PublishJSON(r.Context(), eventprocessor.TopicSignals, sig.ID, &sig, map[string]string{
			eventprocessor.MetaKind:      string(sig.Kind),
			eventprocessor.MetaRequestID: logging.RequestIDFromContext(r.Context()),
		})
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Str("signal_id", sig.ID).Msg("Failed to publish signal")
			NewResponseWriter(w, r).ServiceUnavailable("could not queue signal")
			return
		}
		NewResponseWriter(w, r).Accepted(map[string]string{"signal_id": sig.ID, "kind": string(sig.Kind)})
		return
	}

	if h.detection == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	out, err := h.detection.Process(r.Context(), &sig)
	if err != nil && (errors.Is(err, models.ErrValidation) || models.IsTransient(err)) {
		respondDomainError(w, r, err, "could not process signal")
		return
	}
	// Other errors are detector failures; they are listed in out.Failed.
	NewResponseWriter(w, r).Success(out)
}

// APIStats handles GET /stats/api: per-route latency over the recent window.
// recent=n adds the last n requests.
func (h *Handler) APIStats(w http.ResponseWriter, r *http.Request) {
	if h.perf == nil {
		respondDomainError(w, r, errUnavailable, "")
		return
	}
	data := map[string]interface{}{"endpoints": h.perf.GetStats()}
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			NewResponseWriter(w, r).ValidationError("invalid query parameters",
				map[string]string{"recent": "recent must be a positive integer"})
			return
		}
		data["recent"] = h.perf.GetRecentMetrics(n)
	}
	NewResponseWriter(w, r).Success(data)
}
