// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/logging"
)

// APIResponse is the envelope of every JSON response. Exactly one of Data
// and Error is set.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError is the error half of the envelope. Code is one of the ErrCode
// constants.
type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIMeta accompanies both success and error responses.
type APIMeta struct {
	RequestID  string          `json:"request_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Pagination *PaginationMeta `json:"pagination,omitempty"`
}

// PaginationMeta describes one page of a list endpoint.
type PaginationMeta struct {
	Total   int64 `json:"total"`
	Count   int   `json:"count"`
	Offset  int   `json:"offset"`
	Limit   int   `json:"limit"`
	HasMore bool  `json:"has_more"`
}

const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
)

// ResponseWriter writes envelopes for one request. DurationMs in the meta
// block is measured from its creation.
type ResponseWriter struct {
	w       http.ResponseWriter
	r       *http.Request
	started time.Time
}

// NewResponseWriter starts the duration clock for r.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, started: time.Now()}
}

// Success writes data with 200.
func (rw *ResponseWriter) Success(data interface{}) { rw.ok(http.StatusOK, data, nil) }

// SuccessWithPagination writes one page of a list with 200.
func (rw *ResponseWriter) SuccessWithPagination(data interface{}, page *PaginationMeta) {
	rw.ok(http.StatusOK, data, page)
}

// Created writes data with 201.
func (rw *ResponseWriter) Created(data interface{}) { rw.ok(http.StatusCreated, data, nil) }

// Accepted writes data with 202, used when the work continues on the bus.
func (rw *ResponseWriter) Accepted(data interface{}) { rw.ok(http.StatusAccepted, data, nil) }

func (rw *ResponseWriter) ok(status int, data interface{}, page *PaginationMeta) {
	rw.writeJSON(status, APIResponse{Success: true, Data: data, Meta: rw.meta(page)})
}

func (rw *ResponseWriter) meta(pagination *PaginationMeta) *APIMeta {
	return &APIMeta{
		RequestID:  logging.RequestIDFromContext(rw.r.Context()),
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(rw.started).Milliseconds(),
		Pagination: pagination,
	}
}

// Error writes an error response with the given status code.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	rw.ErrorWithDetails(statusCode, code, message, nil)
}

// ErrorWithDetails writes an error response with additional details.
func (rw *ResponseWriter) ErrorWithDetails(statusCode int, code, message string, details interface{}) {
	meta := rw.meta(nil)
	rw.writeJSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: meta.RequestID,
		},
		Meta: meta,
	})
}

// BadRequest writes 400.
func (rw *ResponseWriter) BadRequest(msg string) {
	rw.Error(http.StatusBadRequest, ErrCodeBadRequest, msg)
}

// NotFound writes 404.
func (rw *ResponseWriter) NotFound(msg string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, msg)
}

// Conflict writes 409, e.g. for an illegal status transition.
func (rw *ResponseWriter) Conflict(msg string) {
	rw.Error(http.StatusConflict, ErrCodeConflict, msg)
}

// InternalError writes 500.
func (rw *ResponseWriter) InternalError(msg string) {
	rw.Error(http.StatusInternalServerError, ErrCodeInternalError, msg)
}

// ServiceUnavailable writes 503.
func (rw *ResponseWriter) ServiceUnavailable(msg string) {
	rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, msg)
}

// ValidationError writes a 400 error with per-field details.
func (rw *ResponseWriter) ValidationError(message string, fields interface{}) {
	rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, message, fields)
}

func (rw *ResponseWriter) writeJSON(status int, body APIResponse) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(status)
	if err := json.NewEncoder(rw.w).Encode(body); err != nil {
		// The status line is already written.
		logging.Ctx(rw.r.Context()).Error().Err(err).Int("status", status).Msg("Encode response")
	}
}

// WriteSuccess writes a 200 envelope.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	NewResponseWriter(w, r).Success(data)
}

// WriteError writes an error envelope. Its signature matches auth.ErrorWriter
// so that authentication and authorization failures use the same envelope.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	NewResponseWriter(w, r).Error(statusCode, code, message)
}
