// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
)

// readinessTimeout bounds all readiness probes of one request.
const readinessTimeout = 3 * time.Second

// CheckResult is the outcome of one readiness probe.
type CheckResult struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// HealthLive handles GET /health/live. It only proves the process serves
// HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"status":         "alive",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HealthReady handles GET /health/ready. Probes run concurrently; any failure
// answers 503 with the per-probe results in the error details.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make([]CheckResult, len(h.readiness))
	var wg sync.WaitGroup
	for i, check := range h.readiness {
		wg.Add(1)
		go func(i int, check ReadinessCheck) {
			defer wg.Done()
			start := time.Now()
			err := check.Check(ctx)
			results[i] = CheckResult{
				Name:      check.Name,
				Healthy:   err == nil,
				LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				results[i].Error = logging.SanitizeError(err.Error())
			}
		}(i, check)
	}
	wg.Wait()

	healthy := true
	for _, res := range results {
		if !res.Healthy {
			healthy = false
			logging.Ctx(r.Context()).Warn().Str("check", res.Name).Str("error", res.Error).Msg("Readiness check failed")
		}
	}

	body := map[string]interface{}{
		"status": "ready",
		"checks": results,
	}
	if h.wsHub != nil {
		body["stream_clients"] = h.wsHub.GetClientCount()
	}

	rw := NewResponseWriter(w, r)
	if !healthy {
		body["status"] = "not_ready"
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "one or more dependencies are unhealthy", body)
		return
	}
	rw.Success(body)
}
