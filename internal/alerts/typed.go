// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerts

import (
	"context"
	"fmt"

	"github.com/tomtom215/vigil/internal/models"
)

// BruteForceParams describes repeated failed logins from one source.
type BruteForceParams struct {
	IP             string
	UserID         string
	UserEmail      string
	AttemptCount   int64
	TargetResource string
	Critical       bool
}

// CreateBruteForceAlert raises a brute_force_detected alert.
//
//nolint:gocritic // hugeParam: params passed by value for API simplicity
func (s *Service) CreateBruteForceAlert(ctx context.Context, p BruteForceParams) (*CreateResult, error) {
	sev := models.SeverityWarning
	if p.Critical {
		sev = models.SeverityCritical
	}
	resource := p.TargetResource
	if resource == "" {
		resource = "login"
	}
	return s.CreateSecurityAlert(ctx, &models.AlertPayload{
		Type:     models.AlertTypeBruteForce,
		Severity: sev,
		Title:    fmt.Sprintf("%d failed login attempts", p.AttemptCount),
		Context: models.AlertContext{
			Timestamp:    s.now(),
			Resource:     resource,
			ActorID:      p.UserID,
			AttemptCount: p.AttemptCount,
			IP:           p.IP,
		},
		Source: models.AlertSource{UserID: p.UserID, UserEmail: p.UserEmail, IP: p.IP},
	})
}

// UnusualLocationParams describes a login from an unexpected place.
type UnusualLocationParams struct {
	UserID          string
	UserEmail       string
	IP              string
	Country         string
	City            string
	PreviousCountry string
	DistanceKM      float64
	IsVPN           bool
	IsTor           bool
}

// CreateUnusualLocationAlert raises an unusual_location warning.
//
//nolint:gocritic // hugeParam: params passed by value for API simplicity
func (s *Service) CreateUnusualLocationAlert(ctx context.Context, p UnusualLocationParams) (*CreateResult, error) {
	return s.CreateSecurityAlert(ctx, &models.AlertPayload{
		Type:     models.AlertTypeUnusualLocation,
		Severity: models.SeverityWarning,
		Title:    fmt.Sprintf("Login from %s (previously %s)", p.Country, p.PreviousCountry),
		Context: models.AlertContext{
			Timestamp: s.now(),
			Resource:  "login",
			ActorID:   p.UserID,
			IP:        p.IP,
			Extra: map[string]any{
				"country":          p.Country,
				"city":             p.City,
				"previous_country": p.PreviousCountry,
				"distance_km":      p.DistanceKM,
				"is_vpn":           p.IsVPN,
				"is_tor":           p.IsTor,
			},
		},
		Source: models.AlertSource{UserID: p.UserID, UserEmail: p.UserEmail, IP: p.IP, Country: p.Country},
	})
}

// SuspiciousPaymentParams describes a payment that scored as risky.
type SuspiciousPaymentParams struct {
	UserID        string
	UserEmail     string
	IP            string
	PaymentID     string
	Amount        float64
	Currency      string
	PaymentMethod string
	RiskFactors   []string
	RiskScore     int
}

// CreateSuspiciousPaymentAlert raises a suspicious_payment alert, critical
// from a risk score of 75.
//
//nolint:gocritic // hugeParam: params passed by value for API simplicity
func (s *Service) CreateSuspiciousPaymentAlert(ctx context.Context, p SuspiciousPaymentParams) (*CreateResult, error) {
	sev := models.SeverityWarning
	if p.RiskScore >= 75 {
		sev = models.SeverityCritical
	}
	return s.CreateSecurityAlert(ctx, &models.AlertPayload{
		Type:     models.AlertTypeSuspiciousPayment,
		Severity: sev,
		Title:    fmt.Sprintf("Suspicious payment of %.2f %s (risk %d)", p.Amount, p.Currency, p.RiskScore),
		Context: models.AlertContext{
			Timestamp: s.now(),
			Resource:  "payment",
			ActorID:   p.UserID,
			IP:        p.IP,
			Extra: map[string]any{
				"payment_id":     p.PaymentID,
				"amount":         p.Amount,
				"currency":       p.Currency,
				"payment_method": p.PaymentMethod,
				"risk_factors":   p.RiskFactors,
				"risk_score":     p.RiskScore,
			},
		},
		Source:         models.AlertSource{UserID: p.UserID, UserEmail: p.UserEmail, IP: p.IP},
		IdempotencyKey: idempotency("payment", p.PaymentID),
	})
}

// APIAbuseParams describes excessive API traffic from one source.
type APIAbuseParams struct {
	IP           string
	UserID       string
	Endpoint     string
	RequestCount int64
	TimeWindow   string
	UserAgent    string
}

// CreateApiAbuseAlert raises an api_abuse warning.
//
//nolint:gocritic,revive // hugeParam; name kept for parity with the other typed wrappers
func (s *Service) CreateApiAbuseAlert(ctx context.Context, p APIAbuseParams) (*CreateResult, error) {
	return s.CreateSecurityAlert(ctx, &models.AlertPayload{
		Type:     models.AlertTypeAPIAbuse,
		Severity: models.SeverityWarning,
		Title:    fmt.Sprintf("%d requests in %s", p.RequestCount, p.TimeWindow),
		Context: models.AlertContext{
			Timestamp:    s.now(),
			Resource:     p.Endpoint,
			ActorID:      p.UserID,
			AttemptCount: p.RequestCount,
			IP:           p.IP,
			Extra: map[string]any{
				"time_window": p.TimeWindow,
				"user_agent":  p.UserAgent,
			},
		},
		Source: models.AlertSource{UserID: p.UserID, IP: p.IP},
	})
}

// DataBreachParams describes an attempt to reach data outside the caller's scope.
type DataBreachParams struct {
	UserID      string
	IP          string
	Resource    string
	RecordCount int64
	Description string
}

// CreateDataBreachAlert raises a critical data_breach_attempt alert.
//
//nolint:gocritic // hugeParam: params passed by value for API simplicity
func (s *Service) CreateDataBreachAlert(ctx context.Context, p DataBreachParams) (*CreateResult, error) {
	title := p.Description
	if title == "" {
		title = "Data breach attempt on " + p.Resource
	}
	return s.CreateSecurityAlert(ctx, &models.AlertPayload{
		Type:     models.AlertTypeDataBreachAttempt,
		Severity: models.SeverityCritical,
		Title:    truncateTitle(title),
		Context: models.AlertContext{
			Timestamp:    s.now(),
			Resource:     p.Resource,
			ActorID:      p.UserID,
			AttemptCount: p.RecordCount,
			IP:           p.IP,
		},
		Source: models.AlertSource{UserID: p.UserID, IP: p.IP},
	})
}

// PromoAbuseParams describes repeated promo code redemptions.
type PromoAbuseParams struct {
	UserID          string
	IP              string
	PromoCode       string
	RedemptionCount int64
}

// CreatePromoAbuseAlert raises a promo_abuse warning.
//
//nolint:gocritic // hugeParam: params passed by value for API simplicity
func (s *Service) CreatePromoAbuseAlert(ctx context.Context, p PromoAbuseParams) (*CreateResult, error) {
	return s.CreateSecurityAlert(ctx, &models.AlertPayload{
		Type:     models.AlertTypePromoAbuse,
		Severity: models.SeverityWarning,
		Title:    fmt.Sprintf("%d promo redemptions", p.RedemptionCount),
		Context: models.AlertContext{
			Timestamp:    s.now(),
			Resource:     "promo:" + p.PromoCode,
			ActorID:      p.UserID,
			AttemptCount: p.RedemptionCount,
			IP:           p.IP,
		},
		Source: models.AlertSource{UserID: p.UserID, IP: p.IP},
	})
}

// SystemCriticalParams describes an internal failure that needs an operator.
type SystemCriticalParams struct {
	System    string
	Component string
	Message   string
	Emergency bool
}

// CreateSystemCriticalAlert raises a system_critical alert, emergency when
// requested.
//
//nolint:gocritic // hugeParam: params passed by value for API simplicity
func (s *Service) CreateSystemCriticalAlert(ctx context.Context, p SystemCriticalParams) (*CreateResult, error) {
	sev := models.SeverityCritical
	if p.Emergency {
		sev = models.SeverityEmergency
	}
	system := p.System
	if system == "" {
		system = "vigil"
	}
	return s.CreateSecurityAlert(ctx, &models.AlertPayload{
		Type:     models.AlertTypeSystemCritical,
		Severity: sev,
		Title:    truncateTitle(p.Message),
		Context: models.AlertContext{
			Timestamp: s.now(),
			Resource:  p.Component,
		},
		Source: models.AlertSource{System: system},
	})
}

func idempotency(kind, id string) string {
	if id == "" {
		return ""
	}
	return kind + ":" + id
}

func truncateTitle(s string) string {
	r := []rune(s)
	if len(r) <= 200 {
		return s
	}
	return string(r[:197]) + "..."
}
