// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// errUnavailable is returned by handlers whose backing service is not
// configured in this process.
var errUnavailable = errors.New("service not configured")

// respondDomainError maps errors from the alert pipeline to HTTP responses.
//
//	ValidationError          400 (409 when it is an invalid transition)
//	ErrActionAlreadyApplied  409
//	not found                404
//	ErrTransientStore        503
//	anything else            500
func respondDomainError(w http.ResponseWriter, r *http.Request, err error, unavailableMsg string) {
	rw := NewResponseWriter(w, r)

	var verr *models.ValidationError
	switch {
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrActionAlreadyApplied):
		rw.Conflict(err.Error())
	case errors.As(err, &verr):
		rw.ValidationError("validation failed", verr.Fields)
	case errors.Is(err, models.ErrValidation):
		rw.ValidationError(err.Error(), nil)
	case errors.Is(err, models.ErrAlertNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, audit.ErrEventNotFound):
		rw.NotFound(err.Error())
	case models.IsTransient(err):
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Transient store failure")
		rw.ServiceUnavailable(unavailableMsg)
	case errors.Is(err, errUnavailable), errors.Is(err, store.ErrClosed):
		rw.ServiceUnavailable(err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		rw.InternalError("internal error")
	}
}
