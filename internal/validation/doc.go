// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is shared process wide. Field names in messages
// are the JSON names of the request body, and the engine's enumerations have
// dedicated tags:
//
//   - alert_type: a known security.* alert type
//   - severity: info, warning, critical or emergency
//   - alert_status: open, acknowledged, resolved or archived
//   - entity_type: user, ip or device
//
// # Usage
//
//	if verr := validation.ValidateStruct(&payload); verr != nil {
//	    return verr.ToModelError() // errors.Is(err, models.ErrValidation)
//	}
//
// API handlers use ToAPIError instead, which produces the VALIDATION_ERROR
// envelope:
//
//	{
//	    "code": "VALIDATION_ERROR",
//	    "message": "type must be a known alert type",
//	    "details": {"field": "type", "tag": "alert_type", "value": "security.nope"}
//	}
package validation
