// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package models

import (
	"time"
)

// AlertStats summarizes alerts and supporting state over a period.
type AlertStats struct {
	Period         string           `json:"period"`
	Since          time.Time        `json:"since"`
	Total          int              `json:"total"`
	BySeverity     map[string]int   `json:"by_severity"`
	ByStatus       map[string]int   `json:"by_status"`
	ByType         map[string]int   `json:"by_type"`
	Occurrences    int64            `json:"occurrences"`
	Aggregated     int              `json:"aggregated"`
	RateLimit      RateLimitStats   `json:"rate_limit"`
	Escalation     EscalationStats  `json:"escalation"`
	Blocked        BlockedStats     `json:"blocked"`
	OpenBySeverity map[Severity]int `json:"open_by_severity"`
}

// RateLimitStats summarizes rate limiter windows.
type RateLimitStats struct {
	ActiveWindows int   `json:"active_windows"`
	LimitedKeys   int   `json:"limited_keys"`
	TotalCounted  int64 `json:"total_counted"`
}

// EscalationStats summarizes escalation schedules by state.
type EscalationStats struct {
	Scheduled int `json:"scheduled"`
	Cancelled int `json:"cancelled"`
	Fired     int `json:"fired"`
	Exhausted int `json:"exhausted"`
	Overdue   int `json:"overdue"`
}

// BlockedStats summarizes blocked entities.
type BlockedStats struct {
	Total          int            `json:"total"`
	ByType         map[string]int `json:"by_type"`
	ByAction       map[string]int `json:"by_action"`
	ExpiringWithin int            `json:"expiring_within_hour"`
}
