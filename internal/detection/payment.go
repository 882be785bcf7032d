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

// Payment risk factors and their points.
const (
	RiskVelocitySpike     = "velocity_spike"
	RiskNewCardHighAmount = "new_card_high_amount"
	RiskAmountOutlier     = "amount_outlier"
	RiskAfterHours        = "after_hours"

	pointsVelocity    = 30
	pointsNewCard     = 25
	pointsOutlier     = 20
	pointsAfterHours  = 10
	paymentRetention  = 24 * time.Hour
	cardTestingWindow = time.Hour
)

// PaymentRisk is the risk assessment of one payment.
type PaymentRisk struct {
	Score   int
	Factors []string
}

// PaymentAnomalyDetector scores payments by velocity, amount and hour.
type PaymentAnomalyDetector struct {
	windows    *WindowCounter
	thresholds Thresholds
	location   *time.Location
}

// Name implements Detector.
func (d *PaymentAnomalyDetector) Name() Name { return DetectorPaymentAnomaly }

// Kinds implements Detector.
func (d *PaymentAnomalyDetector) Kinds() []SignalKind { return []SignalKind{SignalPayment} }

// Check implements Detector.
func (d *PaymentAnomalyDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	identity := sig.Identity()
	amount, ok := sig.Float("amount")
	if identity == "" || !ok {
		return nil, nil
	}

	ev := WindowEvent{ID: sig.ID, At: sig.Timestamp, Value: sig.Attr("payment_id"), Amount: amount}
	if err := d.windows.Record(ctx, streamPayments, identity, ev, paymentRetention); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	history, err := d.windows.Events(ctx, streamPayments, identity, sig.Timestamp.Add(-paymentRetention), sig.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}

	risk := d.assess(sig, amount, history)
	if risk.Score < d.thresholds.PaymentSuspiciousScore {
		return nil, nil
	}

	sev := models.SeverityWarning
	if risk.Score >= d.thresholds.PaymentCriticalScore {
		sev = models.SeverityCritical
	}
	ac := sig.alertContext("payment", 0)
	ac.Extra["amount"] = amount
	ac.Extra["currency"] = sig.Attr("currency")
	ac.Extra["paymentId"] = sig.Attr("payment_id")
	ac.Extra["paymentMethod"] = sig.Attr("payment_method")
	ac.Extra["riskFactors"] = risk.Factors
	ac.Extra["riskScore"] = risk.Score
	return newPayload(d.Name(), sig, models.AlertTypeSuspiciousPayment, sev, "Suspicious payment detected", ac), nil
}

// assess computes the risk of a payment. history holds the payments of the
// last 24 hours including the current one. A payments_last_hour counter on
// the signal replaces the hourly count taken from history.
func (d *PaymentAnomalyDetector) assess(sig *Signal, amount float64, history []WindowEvent) PaymentRisk {
	var risk PaymentRisk
	hourAgo := sig.Timestamp.Add(-time.Hour)

	hourly := 0
	var priorSum float64
	prior := 0
	for _, ev := range history {
		if !ev.At.Before(hourAgo) {
			hourly++
		}
		if ev.ID != sig.ID {
			priorSum += ev.Amount
			prior++
		}
	}

	if n, ok := sig.Counter(CounterPaymentsLastHour); ok {
		hourly = n
	}
	if hourly >= d.thresholds.PaymentVelocity {
		risk.Score += pointsVelocity
		risk.Factors = append(risk.Factors, RiskVelocitySpike)
	}
	if amount > d.thresholds.HighAmount && sig.Bool("is_new_card") {
		risk.Score += pointsNewCard
		risk.Factors = append(risk.Factors, RiskNewCardHighAmount)
	}
	if prior > 0 && amount > (priorSum/float64(prior))*d.thresholds.AmountOutlierFactor {
		risk.Score += pointsOutlier
		risk.Factors = append(risk.Factors, RiskAmountOutlier)
	}
	if h := sig.Timestamp.In(d.location).Hour(); h >= d.thresholds.AfterHoursStart && h <= d.thresholds.AfterHoursEnd {
		risk.Score += pointsAfterHours
		risk.Factors = append(risk.Factors, RiskAfterHours)
	}
	return risk
}

// CardTestingDetector flags an IP that fails payments repeatedly or probes
// several distinct cards within an hour.
type CardTestingDetector struct {
	windows    *WindowCounter
	thresholds Thresholds
}

// Name implements Detector.
func (d *CardTestingDetector) Name() Name { return DetectorCardTesting }

// Kinds implements Detector.
func (d *CardTestingDetector) Kinds() []SignalKind { return []SignalKind{SignalPaymentAttempt} }

// Check implements Detector. The payment_failures and distinct_cards
// counters on the signal each replace their window.
func (d *CardTestingDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	if sig.IP == "" {
		return nil, nil
	}
	since := sig.Timestamp.Add(-cardTestingWindow)

	failures, ok := sig.Counter(CounterPaymentFailures)
	if !ok {
		if !sig.Bool("success") {
			ev := WindowEvent{ID: sig.ID, At: sig.Timestamp, Value: sig.Attr("payment_id")}
			if err := d.windows.Record(ctx, streamPaymentFailure, sig.IP, ev, cardTestingWindow); err != nil {
				return nil, fmt.Errorf("record payment failure: %w", err)
			}
		}
		var err error
		failures, err = d.windows.Count(ctx, streamPaymentFailure, sig.IP, since, sig.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("count payment failures: %w", err)
		}
	}

	cards, ok := sig.Counter(CounterDistinctCards)
	if !ok {
		if card := sig.Attr("card_fingerprint"); card != "" {
			ev := WindowEvent{ID: sig.ID, At: sig.Timestamp, Value: card}
			if err := d.windows.Record(ctx, streamPaymentCards, sig.IP, ev, cardTestingWindow); err != nil {
				return nil, fmt.Errorf("record card: %w", err)
			}
		}
		var err error
		cards, err = d.windows.Distinct(ctx, streamPaymentCards, sig.IP, since, sig.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("count cards: %w", err)
		}
	}
	if failures < d.thresholds.CardTestingFailures && cards < d.thresholds.CardTestingCards {
		return nil, nil
	}

	ac := sig.alertContext("payment", int64(failures))
	ac.Extra["distinctCards"] = cards
	ac.Extra["timeWindow"] = "1 hour"
	return newPayload(d.Name(), sig, models.AlertTypeCardTesting, models.SeverityCritical, "Card testing detected", ac), nil
}
