// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// Injection attack types.
const (
	AttackSQL = "sql"
	AttackXSS = "xss"
)

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|UNION|ALTER)\b.*\b(FROM|INTO|TABLE|SET|WHERE)\b`),
	regexp.MustCompile(`(--|#|/\*|\*/)`),
	regexp.MustCompile(`(?i)\bOR\b\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i)\bAND\b\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i);\s*(DROP|DELETE|UPDATE|INSERT)`),
	regexp.MustCompile(`(?i)('|")\s*(OR|AND)\s*('|")\s*=\s*('|")`),
}

// RE2 has no lookahead; the script pattern matches the shortest closed tag.
var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b.*?</script>`),
	regexp.MustCompile(`(?i)<img[^>]+onerror\s*=`),
	regexp.MustCompile(`(?i)<[^>]+on\w+\s*=`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)<iframe`),
	regexp.MustCompile(`(?i)<object`),
	regexp.MustCompile(`(?i)<embed`),
}

// MatchInjection returns the attack type and the matching pattern of
// payload. SQL signatures are checked first.
func MatchInjection(payload string) (attack, pattern string, ok bool) {
	if !mayContainInjection(payload) {
		return "", "", false
	}
	for _, re := range sqlInjectionPatterns {
		if re.MatchString(payload) {
			return AttackSQL, re.String(), true
		}
	}
	for _, re := range xssPatterns {
		if re.MatchString(payload) {
			return AttackXSS, re.String(), true
		}
	}
	return "", "", false
}

// InjectionAttempt is the stored record of a detected injection.
type InjectionAttempt struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	IP             string    `json:"ip"`
	UserID         string    `json:"user_id,omitempty"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	Payload        string    `json:"payload"`
	MatchedPattern string    `json:"matched_pattern"`
	Blocked        bool      `json:"blocked"`
	Timestamp      time.Time `json:"timestamp"`
}

// InjectionDetector matches request payloads against SQL injection and XSS
// signatures.
type InjectionDetector struct {
	store      *store.Store
	thresholds Thresholds
}

// Name implements Detector.
func (d *InjectionDetector) Name() Name { return DetectorInjection }

// Kinds implements Detector.
func (d *InjectionDetector) Kinds() []SignalKind { return []SignalKind{SignalRequestPayload} }

// Check implements Detector.
func (d *InjectionDetector) Check(ctx context.Context, sig *Signal) (*models.AlertPayload, error) {
	payload := sig.Attr("payload")
	if payload == "" {
		return nil, nil
	}
	attack, pattern, ok := MatchInjection(payload)
	if !ok {
		return nil, nil
	}

	endpoint := sig.Attr("endpoint")
	attempt := InjectionAttempt{
		ID:             sig.ID,
		Type:           attack,
		IP:             sig.IP,
		UserID:         sig.UserID,
		Endpoint:       endpoint,
		Method:         sig.Attr("method"),
		Payload:        truncateRunes(payload, d.thresholds.InjectionPayloadRunes),
		MatchedPattern: pattern,
		Blocked:        true,
		Timestamp:      sig.Timestamp,
	}
	key := store.WindowEventKey(streamInjections, firstNonEmpty(sig.IP, sig.Identity()), sig.Timestamp, sig.ID)
	err := d.store.Update(ctx, func(txn *store.Txn) error {
		return txn.SetWithTTL(key, &attempt, d.thresholds.InjectionRetention)
	})
	if err != nil {
		return nil, fmt.Errorf("record injection attempt: %w", err)
	}

	alertType, attackName := models.AlertTypeSQLInjection, "SQL Injection"
	if attack == AttackXSS {
		alertType, attackName = models.AlertTypeXSSAttempt, "XSS"
	}
	ac := sig.alertContext(endpoint, 1)
	ac.Extra["attackType"] = attackName
	ac.Extra["affectedResource"] = endpoint
	ac.Extra["payloadSnippet"] = truncateRunes(payload, d.thresholds.InjectionSnippetRunes)
	ac.Extra["method"] = attempt.Method
	return newPayload(d.Name(), sig, alertType, models.SeverityCritical, attackName+" attempt detected", ac), nil
}

// RecentAttempts returns the injection attempts recorded for ip since t,
// oldest first.
func (d *InjectionDetector) RecentAttempts(ctx context.Context, ip string, since time.Time) ([]InjectionAttempt, error) {
	prefix := store.WindowStreamPrefix(streamInjections, ip)
	var out []InjectionAttempt
	err := d.store.View(ctx, func(txn *store.Txn) error {
		return txn.ScanFrom(prefix, prefix+store.TimeSegment(since), func(key string, val []byte) error {
			var a InjectionAttempt
			if err := json.Unmarshal(val, &a); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out = append(out, a)
			return nil
		})
	})
	return out, err
}
