// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// MassAccountDetector counts registrations per IP.
type MassAccountDetector struct {
	windows    *WindowCounter
	thresholds Thresholds
}

// Name implements Detector.
func (d *MassAccountDetector) Name() Name { return DetectorMassAccounts }

// Kinds implements Detector.
func (d *MassAccountDetector) Kinds() []SignalKind { return []SignalKind{SignalAccountCreated} }

// Check implements Detector. The hourly threshold wins over the daily one.
func (d *MassAccountDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	if sig.IP == "" {
		return nil, nil
	}
	const day = 24 * time.Hour
	ev := WindowEvent{ID: sig.ID, At: sig.Timestamp, Value: sig.UserID}
	if err := d.windows.Record(ctx, streamAccounts, sig.IP, ev, day); err != nil {
		return nil, fmt.Errorf("record account: %w", err)
	}
	events, err := d.windows.Events(ctx, streamAccounts, sig.IP, sig.Timestamp.Add(-day), sig.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}
	hourly := countSince(events, sig.Timestamp.Add(-time.Hour))
	daily := len(events)

	var sev models.Severity
	var count int
	var window string
	switch {
	case hourly >= d.thresholds.AccountsPerHour:
		sev, count, window = models.SeverityCritical, hourly, "1 hour"
	case daily >= d.thresholds.AccountsPerDay:
		sev, count, window = models.SeverityWarning, daily, "24 hours"
	default:
		return nil, nil
	}

	ac := sig.alertContext("registration", int64(count))
	ac.Extra["accountCount"] = count
	ac.Extra["timeWindow"] = window
	return newPayload(d.Name(), sig, models.AlertTypeMassAccountCreation, sev, "Mass account creation detected", ac), nil
}

// APIAbuseDetector counts monitored API requests per IP.
type APIAbuseDetector struct {
	windows    *WindowCounter
	thresholds Thresholds
}

// Name implements Detector.
func (d *APIAbuseDetector) Name() Name { return DetectorAPIAbuse }

// Kinds implements Detector.
func (d *APIAbuseDetector) Kinds() []SignalKind { return []SignalKind{SignalAPIRequest} }

// Check implements Detector. The requests_per_minute and requests_per_hour
// counters on the signal replace the window when either is present.
func (d *APIAbuseDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	if sig.IP == "" {
		return nil, nil
	}
	perMinute, okMinute := sig.Counter(CounterRequestsPerMinute)
	perHour, okHour := sig.Counter(CounterRequestsPerHour)
	if !okMinute && !okHour {
		ev := WindowEvent{ID: sig.ID, At: sig.Timestamp}
		if err := d.windows.Record(ctx, streamAPIRequests, sig.IP, ev, 2*time.Hour); err != nil {
			return nil, fmt.Errorf("record request: %w", err)
		}
		events, err := d.windows.Events(ctx, streamAPIRequests, sig.IP, sig.Timestamp.Add(-time.Hour), sig.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("count requests: %w", err)
		}
		perMinute = countSince(events, sig.Timestamp.Add(-time.Minute))
		perHour = len(events)
	}

	var count int
	var window string
	switch {
	case perMinute >= d.thresholds.RequestsPerMinute:
		count, window = perMinute, "1 minute"
	case perHour >= d.thresholds.RequestsPerHour:
		count, window = perHour, "1 hour"
	default:
		return nil, nil
	}

	endpoint := sig.Attr("endpoint")
	ac := sig.alertContext(endpoint, int64(count))
	ac.Extra["requestCount"] = count
	ac.Extra["timeWindow"] = window
	ac.Extra["endpoint"] = endpoint
	if ua := sig.Attr("user_agent"); ua != "" {
		ac.Extra["userAgent"] = ua
	}
	return newPayload(d.Name(), sig, models.AlertTypeAPIAbuse, models.SeverityWarning, "API abuse detected", ac), nil
}

// SessionDetector counts concurrently active sessions per user.
type SessionDetector struct {
	windows    *WindowCounter
	thresholds Thresholds
}

// Name implements Detector.
func (d *SessionDetector) Name() Name { return DetectorSessions }

// Kinds implements Detector.
func (d *SessionDetector) Kinds() []SignalKind { return []SignalKind{SignalSessionStarted} }

// Check implements Detector. A session stays active for SessionTTL.
func (d *SessionDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	if sig.UserID == "" {
		return nil, nil
	}
	sessionID := firstNonEmpty(sig.Attr("session_id"), sig.ID)
	ttl := d.thresholds.SessionTTL
	ev := WindowEvent{ID: sig.ID, At: sig.Timestamp, Value: sessionID}
	if err := d.windows.Record(ctx, streamSessions, sig.UserID, ev, ttl); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}
	active, err := d.windows.Distinct(ctx, streamSessions, sig.UserID, sig.Timestamp.Add(-ttl), sig.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if active < d.thresholds.MaxConcurrentSessions {
		return nil, nil
	}

	ac := sig.alertContext("sessions", int64(active))
	ac.Extra["activeSessions"] = active
	return newPayload(d.Name(), sig, models.AlertTypeMultipleSessions, models.SeverityWarning, "Multiple concurrent sessions", ac), nil
}

// PromoAbuseDetector counts promotion redemptions per user.
type PromoAbuseDetector struct {
	windows    *WindowCounter
	thresholds Thresholds
}

// Name implements Detector.
func (d *PromoAbuseDetector) Name() Name { return DetectorPromoAbuse }

// Kinds implements Detector.
func (d *PromoAbuseDetector) Kinds() []SignalKind { return []SignalKind{SignalPromoRedemption} }

// Check implements Detector.
func (d *PromoAbuseDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	identity := sig.Identity()
	if identity == "" {
		return nil, nil
	}
	ev := WindowEvent{ID: sig.ID, At: sig.Timestamp, Value: sig.Attr("promo_code")}
	if err := d.windows.Record(ctx, streamPromo, identity, ev, time.Hour); err != nil {
		return nil, fmt.Errorf("record redemption: %w", err)
	}
	n, err := d.windows.Count(ctx, streamPromo, identity, sig.Timestamp.Add(-time.Hour), sig.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("count redemptions: %w", err)
	}
	if n < d.thresholds.PromoRedemptionsPerHour {
		return nil, nil
	}

	ac := sig.alertContext("promo", int64(n))
	ac.Extra["redemptions"] = n
	if code := sig.Attr("promo_code"); code != "" {
		ac.Extra["promoCode"] = code
	}
	return newPayload(d.Name(), sig, models.AlertTypePromoAbuse, models.SeverityWarning, "Promotion abuse detected", ac), nil
}

func countSince(events []WindowEvent, since time.Time) int {
	n := 0
	for _, ev := range events {
		if !ev.At.Before(since) {
			n++
		}
	}
	return n
}
