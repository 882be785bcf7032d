// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package models

import "time"

// ScheduleState is the state of an escalation schedule.
type ScheduleState string

const (
	ScheduleScheduled ScheduleState = "scheduled"
	ScheduleCancelled ScheduleState = "cancelled"
	ScheduleFired     ScheduleState = "fired"
	ScheduleExhausted ScheduleState = "exhausted"
)

// EscalationSchedule is a pending deferred re-check tied to one alert.
// There is at most one schedule per alert; Level identifies which step it waits for.
// Generation grows each time a finished schedule is re-armed for a re-opened
// alert, so tasks of an earlier generation no longer match.
type EscalationSchedule struct {
	AlertID    string        `json:"alert_id"`
	DueAt      time.Time     `json:"due_at"`
	ConfigID   Severity      `json:"config_id"`
	Level      int           `json:"level"`
	Generation int           `json:"generation"`
	State      ScheduleState `json:"state"`
	Cancelled  bool          `json:"cancelled"`
	TaskToken  string        `json:"task_token,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Pending reports whether the schedule still waits to fire.
func (s *EscalationSchedule) Pending() bool {
	return s.State == ScheduleScheduled && !s.Cancelled
}

// RateLimitRecord counts alerts for one (type, source) pair inside a window.
type RateLimitRecord struct {
	Key         string    `json:"key"`
	Type        AlertType `json:"type"`
	Source      string    `json:"source"`
	WindowStart time.Time `json:"window_start"`
	Count       int64     `json:"count"`
	Bypass      bool      `json:"bypass"`
}
