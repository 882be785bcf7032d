// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error taxonomy shared by every component. Outcome markers (ErrRateLimited,
// ErrIdempotentNoOp, ErrActionAlreadyApplied) are never surfaced to callers as
// failures; they let internal code tell "nothing to do" apart from "done".
var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited marks a suppressed notification. The alert is still persisted.
	ErrRateLimited = errors.New("notification rate limited")

	// ErrTransientStore is a retryable storage failure.
	ErrTransientStore = errors.New("transient store error")

	// ErrIdempotentNoOp is returned internally when a schedule was already cancelled or fired.
	ErrIdempotentNoOp = errors.New("idempotent no-op")

	// ErrActionAlreadyApplied is returned internally when a tier action exists for the epoch.
	ErrActionAlreadyApplied = errors.New("threat action already applied")

	// ErrAlertNotFound is returned when no alert exists for an id.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a malformed payload. It is returned before any side effect.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, k := range sortedKeys(e.Fields) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
