// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/models"
)

// SignalKind identifies what an upstream component observed.
type SignalKind string

const (
	// SignalLoginAttempt is any authentication attempt. Attribute "success".
	SignalLoginAttempt SignalKind = "login_attempt"

	// SignalLogin is a successful login with geolocation. Attributes "country",
	// "country_name", "city", "latitude", "longitude", "is_vpn", "is_tor",
	// optional "distance_km".
	SignalLogin SignalKind = "login"

	// SignalPayment is a completed or authorized payment. Attributes "amount",
	// "currency", "payment_id", "payment_method", "is_new_card".
	SignalPayment SignalKind = "payment"

	// SignalPaymentAttempt is a payment authorization attempt. Attributes
	// "success", "amount", "payment_id", "card_fingerprint".
	SignalPaymentAttempt SignalKind = "payment_attempt"

	// SignalAccountCreated is a new registration.
	SignalAccountCreated SignalKind = "account_created"

	// SignalAPIRequest is one monitored API request. Attributes "endpoint",
	// "method", "user_agent".
	SignalAPIRequest SignalKind = "api_request"

	// SignalRequestPayload carries a request body to inspect. Attributes
	// "endpoint", "method", "payload".
	SignalRequestPayload SignalKind = "request_payload"

	// SignalSessionStarted is a new session. Attributes "session_id", "user_agent".
	SignalSessionStarted SignalKind = "session_started"

	// SignalPromoRedemption is a promotion code redemption. Attribute "promo_code".
	SignalPromoRedemption SignalKind = "promo_redemption"
)

// AllSignalKinds returns every known signal kind.
func AllSignalKinds() []SignalKind {
	return []SignalKind{
		SignalLoginAttempt,
		SignalLogin,
		SignalPayment,
		SignalPaymentAttempt,
		SignalAccountCreated,
		SignalAPIRequest,
		SignalRequestPayload,
		SignalSessionStarted,
		SignalPromoRedemption,
	}
}

// Valid reports whether k is a known signal kind.
func (k SignalKind) Valid() bool {
	for _, known := range AllSignalKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Signal is one observation handed to the detectors.
type Signal struct {
	ID         string           `json:"id"`
	Kind       SignalKind       `json:"kind" validate:"required"`
	EntityID   string           `json:"entity_id,omitempty"`
	IP         string           `json:"ip,omitempty" validate:"omitempty,ip"`
	UserID     string           `json:"user_id,omitempty"`
	Email      string           `json:"email,omitempty" validate:"omitempty,email"`
	Timestamp  time.Time        `json:"timestamp"`
	Counters   map[string]int64 `json:"counters,omitempty"`
	Attributes map[string]any   `json:"attributes,omitempty"`
}

// Identity returns the user id when present, else the IP.
func (s *Signal) Identity() string {
	if s.UserID != "" {
		return s.UserID
	}
	if s.EntityID != "" {
		return s.EntityID
	}
	return s.IP
}

// Source returns the alert source describing the signal originator.
func (s *Signal) Source() models.AlertSource {
	return models.AlertSource{
		UserID:    s.UserID,
		UserEmail: s.Email,
		IP:        s.IP,
		Country:   s.Attr("country"),
	}
}

// Attr returns a string attribute, or "" when absent.
func (s *Signal) Attr(key string) string {
	switch v := s.Attributes[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Float returns a numeric attribute and whether it was present and numeric.
func (s *Signal) Float(key string) (float64, bool) {
	switch v := s.Attributes[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool returns a boolean attribute. Missing attributes are false.
func (s *Signal) Bool(key string) bool {
	switch v := s.Attributes[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	}
	return false
}

// Upstream counters a caller may attach to a signal, for example the
// attempt count an edge limiter already keeps. A detector uses a supplied
// counter instead of its own sliding window.
const (
	CounterFailedLogins      = "failed_logins"
	CounterPaymentsLastHour  = "payments_last_hour"
	CounterPaymentFailures   = "payment_failures"
	CounterDistinctCards     = "distinct_cards"
	CounterRequestsPerMinute = "requests_per_minute"
	CounterRequestsPerHour   = "requests_per_hour"
)

// Counter returns an upstream counter and whether the caller supplied it.
func (s *Signal) Counter(key string) (int, bool) {
	v, ok := s.Counters[key]
	return int(v), ok
}

// alertContext returns the alert context shared by every detector.
func (s *Signal) alertContext(resource string, attempts int64) models.AlertContext {
	return models.AlertContext{
		Timestamp:    s.Timestamp,
		Resource:     resource,
		ActorID:      s.UserID,
		AttemptCount: attempts,
		IP:           s.IP,
		Extra:        map[string]any{},
	}
}
