// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"fmt"
	"time"
)

// Thresholds holds the detection thresholds of every detector.
type Thresholds struct {
	// Brute force: failed logins per identity inside BruteForceWindow.
	BruteForceWindow   time.Duration `koanf:"brute_force_window"`
	BruteForceWarning  int           `koanf:"brute_force_warning"`
	BruteForceCritical int           `koanf:"brute_force_critical"`

	// Unusual location.
	MaxTravelSpeedKmH   float64 `koanf:"max_travel_speed_kmh"`
	GeoProfileLocations int     `koanf:"geo_profile_locations"`
	GeoProfileIPs       int     `koanf:"geo_profile_ips"`

	// Payment anomaly risk scoring.
	PaymentVelocity        int     `koanf:"payment_velocity"`
	HighAmount             float64 `koanf:"high_amount"`
	AmountOutlierFactor    float64 `koanf:"amount_outlier_factor"`
	AfterHoursStart        int     `koanf:"after_hours_start"`
	AfterHoursEnd          int     `koanf:"after_hours_end"`
	PaymentSuspiciousScore int     `koanf:"payment_suspicious_score"`
	PaymentCriticalScore   int     `koanf:"payment_critical_score"`

	// Card testing: per IP and hour.
	CardTestingFailures int `koanf:"card_testing_failures"`
	CardTestingCards    int `koanf:"card_testing_cards"`

	// Mass account creation: per IP.
	AccountsPerHour int `koanf:"accounts_per_hour"`
	AccountsPerDay  int `koanf:"accounts_per_day"`

	// API abuse: per IP.
	RequestsPerMinute int `koanf:"requests_per_minute"`
	RequestsPerHour   int `koanf:"requests_per_hour"`

	// Injection records.
	InjectionPayloadRunes int           `koanf:"injection_payload_runes"`
	InjectionSnippetRunes int           `koanf:"injection_snippet_runes"`
	InjectionRetention    time.Duration `koanf:"injection_retention"`

	// Multiple sessions.
	MaxConcurrentSessions int           `koanf:"max_concurrent_sessions"`
	SessionTTL            time.Duration `koanf:"session_ttl"`

	// Promo abuse: redemptions per user and hour.
	PromoRedemptionsPerHour int `koanf:"promo_redemptions_per_hour"`

	// Timezone evaluates after-hours payments. Defaults to UTC.
	Timezone string `koanf:"timezone"`
}

// DefaultThresholds returns production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BruteForceWindow:   15 * time.Minute,
		BruteForceWarning:  5,
		BruteForceCritical: 20,

		MaxTravelSpeedKmH:   1000,
		GeoProfileLocations: 10,
		GeoProfileIPs:       20,

		PaymentVelocity:        5,
		HighAmount:             500,
		AmountOutlierFactor:    3,
		AfterHoursStart:        3,
		AfterHoursEnd:          6,
		PaymentSuspiciousScore: 50,
		PaymentCriticalScore:   75,

		CardTestingFailures: 3,
		CardTestingCards:    3,

		AccountsPerHour: 3,
		AccountsPerDay:  10,

		RequestsPerMinute: 60,
		RequestsPerHour:   500,

		InjectionPayloadRunes: 500,
		InjectionSnippetRunes: 100,
		InjectionRetention:    30 * 24 * time.Hour,

		MaxConcurrentSessions: 5,
		SessionTTL:            24 * time.Hour,

		PromoRedemptionsPerHour: 5,

		Timezone: "UTC",
	}
}

// Validate checks the thresholds.
func (t *Thresholds) Validate() error {
	positive := map[string]int{
		"brute_force_warning":        t.BruteForceWarning,
		"brute_force_critical":       t.BruteForceCritical,
		"geo_profile_locations":      t.GeoProfileLocations,
		"geo_profile_ips":            t.GeoProfileIPs,
		"payment_velocity":           t.PaymentVelocity,
		"payment_suspicious_score":   t.PaymentSuspiciousScore,
		"payment_critical_score":     t.PaymentCriticalScore,
		"card_testing_failures":      t.CardTestingFailures,
		"card_testing_cards":         t.CardTestingCards,
		"accounts_per_hour":          t.AccountsPerHour,
		"accounts_per_day":           t.AccountsPerDay,
		"requests_per_minute":        t.RequestsPerMinute,
		"requests_per_hour":          t.RequestsPerHour,
		"injection_payload_runes":    t.InjectionPayloadRunes,
		"injection_snippet_runes":    t.InjectionSnippetRunes,
		"max_concurrent_sessions":    t.MaxConcurrentSessions,
		"promo_redemptions_per_hour": t.PromoRedemptionsPerHour,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("detection.%s must be positive", name)
		}
	}
	if t.BruteForceCritical < t.BruteForceWarning {
		return fmt.Errorf("detection.brute_force_critical must be >= brute_force_warning")
	}
	if t.PaymentCriticalScore < t.PaymentSuspiciousScore {
		return fmt.Errorf("detection.payment_critical_score must be >= payment_suspicious_score")
	}
	if t.BruteForceWindow <= 0 || t.SessionTTL <= 0 || t.InjectionRetention <= 0 {
		return fmt.Errorf("detection windows must be positive")
	}
	if t.MaxTravelSpeedKmH <= 0 || t.HighAmount <= 0 || t.AmountOutlierFactor <= 0 {
		return fmt.Errorf("detection speed and amount thresholds must be positive")
	}
	if t.AfterHoursStart < 0 || t.AfterHoursStart > 23 || t.AfterHoursEnd < 0 || t.AfterHoursEnd > 23 {
		return fmt.Errorf("detection after hours must be within 0-23")
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("invalid detection.timezone: %w", err)
	}
	return nil
}
