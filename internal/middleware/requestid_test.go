// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/logging"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	var capturedID, loggingID, correlationID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetRequestID(r.Context())
		loggingID = logging.RequestIDFromContext(r.Context())
		correlationID = logging.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	RequestID(handler).ServeHTTP(rec, req)

	responseID := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(responseID); err != nil {
		t.Errorf("Response X-Request-ID %q is not a valid UUID: %v", responseID, err)
	}
	if capturedID != responseID {
		t.Errorf("Context ID (%s) doesn't match response header ID (%s)", capturedID, responseID)
	}
	if loggingID != responseID {
		t.Errorf("logging request_id = %q, want %q", loggingID, responseID)
	}
	if correlationID == "" {
		t.Error("Expected correlation ID in logging context")
	}
}

func TestRequestID_UpstreamHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		preserve bool
	}{
		{"simple id", "existing-request-id-12345", true},
		{"dotted id", "lb.01_abc", true},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"control characters", "abc\ndef", false},
		{"spaces", "abc def", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedID string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedID = GetRequestID(r.Context())
			})
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("X-Request-ID", tt.header)
			rec := httptest.NewRecorder()
			RequestID(handler).ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if tt.preserve && got != tt.header {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.header)
			}
			if !tt.preserve && got == tt.header {
				t.Errorf("X-Request-ID %q should have been replaced", tt.header)
			}
			if capturedID != got {
				t.Errorf("context ID %q != header %q", capturedID, got)
			}
		})
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("GetRequestID on bare context = %q, want empty", id)
	}
}
