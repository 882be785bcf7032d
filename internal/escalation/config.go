// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package escalation

import (
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// Step is one escalation tier: an open alert at the governing severity is
// raised to Target after Timeout without acknowledgment.
type Step struct {
	Timeout time.Duration   `koanf:"timeout"`
	Target  models.Severity `koanf:"target"`
}

// Config holds escalation configuration.
type Config struct {
	// Steps is keyed by the severity that governs the step. A severity without
	// a step is terminal.
	Steps map[string]Step `koanf:"steps"`

	// SweepBatch bounds the schedules fired by one ProcessPendingEscalations call.
	SweepBatch int `koanf:"sweep_batch"`
}

// DefaultConfig returns the production tiers: warning escalates to critical
// after two hours, critical to emergency after thirty minutes, and emergency
// is terminal. Info alerts never escalate.
func DefaultConfig() Config {
	return Config{
		Steps: map[string]Step{
			string(models.SeverityWarning):  {Timeout: 2 * time.Hour, Target: models.SeverityCritical},
			string(models.SeverityCritical): {Timeout: 30 * time.Minute, Target: models.SeverityEmergency},
		},
		SweepBatch: 500,
	}
}

// Validate checks the configuration. Every step must raise severity so the
// chain always terminates.
func (c *Config) Validate() error {
	for from, step := range c.Steps {
		sev := models.Severity(from)
		if !sev.Valid() {
			return fmt.Errorf("unknown severity %q in escalation steps", from)
		}
		if step.Timeout <= 0 {
			return fmt.Errorf("escalation timeout for %s must be positive", from)
		}
		if !step.Target.Valid() {
			return fmt.Errorf("unknown target severity %q for %s", step.Target, from)
		}
		if step.Target.Rank() <= sev.Rank() {
			return fmt.Errorf("escalation from %s must target a higher severity, got %s", from, step.Target)
		}
	}
	if c.SweepBatch < 1 {
		return fmt.Errorf("sweep_batch must be at least 1")
	}
	return nil
}

// StepFor returns the step governing severity, if any.
func (c *Config) StepFor(sev models.Severity) (Step, bool) {
	step, ok := c.Steps[string(sev)]
	return step, ok
}
