// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// Name identifies a detector.
type Name string

const (
	DetectorBruteForce      Name = "brute_force"
	DetectorUnusualLocation Name = "unusual_location"
	DetectorPaymentAnomaly  Name = "payment_anomaly"
	DetectorCardTesting     Name = "card_testing"
	DetectorMassAccounts    Name = "mass_account_creation"
	DetectorAPIAbuse        Name = "api_abuse"
	DetectorInjection       Name = "injection"
	DetectorSessions        Name = "multiple_sessions"
	DetectorPromoAbuse      Name = "promo_abuse"
)

// Detector evaluates signals of the kinds it declares.
type Detector interface {
	// Name returns the detector name used in metrics and configuration.
	Name() Name

	// Kinds returns the signal kinds the detector consumes.
	Kinds() []SignalKind

	// Check evaluates the signal. It returns a payload when the signal
	// crosses a threshold, nil otherwise.
	Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error)
}

// NewDefaultDetectors returns every built-in detector.
func NewDefaultDetectors(s *store.Store, t Thresholds) []Detector {
	w := NewWindowCounter(s)
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return []Detector{
		&BruteForceDetector{windows: w, thresholds: t},
		&LocationDetector{store: s, thresholds: t},
		&PaymentAnomalyDetector{windows: w, thresholds: t, location: loc},
		&CardTestingDetector{windows: w, thresholds: t},
		&MassAccountDetector{windows: w, thresholds: t},
		&APIAbuseDetector{windows: w, thresholds: t},
		&InjectionDetector{store: s, thresholds: t},
		&SessionDetector{windows: w, thresholds: t},
		&PromoAbuseDetector{windows: w, thresholds: t},
	}
}

// newPayload builds an alert payload for sig. The idempotency key ties the
// payload to the signal and detector so a redelivered signal cannot raise a
// second occurrence.
func newPayload(d Name, sig *Signal, t models.AlertType, sev models.Severity, title string, ac models.AlertContext) *models.AlertPayload {
	return &models.AlertPayload{
		Type:           t,
		Severity:       sev,
		Title:          title,
		Context:        ac,
		Source:         sig.Source(),
		IdempotencyKey: "signal:" + sig.ID + ":" + string(d),
	}
}

// haversineDistance returns the great-circle distance between two points in
// kilometers.
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
