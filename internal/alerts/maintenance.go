// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/escalation"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// Maintenance task names.
const (
	TaskCleanupRateLimits  = "cleanup_rate_limits"
	TaskArchiveResolved    = "archive_resolved"
	TaskProcessEscalations = "process_escalations"
)

// MaintenanceTasks lists the tasks in the order RunMaintenance runs them.
var MaintenanceTasks = []string{TaskCleanupRateLimits, TaskArchiveResolved, TaskProcessEscalations}

// TaskReport is the outcome of one maintenance task.
type TaskReport struct {
	Task      string        `json:"task"`
	Processed int           `json:"processed"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// MaintenanceReport is the outcome of RunMaintenance.
type MaintenanceReport struct {
	StartedAt time.Time    `json:"started_at"`
	Tasks     []TaskReport `json:"tasks"`
}

// Failed reports whether any task failed.
func (r *MaintenanceReport) Failed() bool {
	for i := range r.Tasks {
		if r.Tasks[i].Error != "" {
			return true
		}
	}
	return false
}

// RunMaintenance runs every maintenance task. Each task is idempotent and a
// failing task does not stop the others; the joined failures are returned
// alongside the full report.
func (s *Service) RunMaintenance(ctx context.Context) (*MaintenanceReport, error) {
	report := &MaintenanceReport{StartedAt: s.now()}
	var errs []error
	for _, task := range MaintenanceTasks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		tr, err := s.RunTask(ctx, task)
		report.Tasks = append(report.Tasks, tr)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

// RunTask runs one named maintenance task.
func (s *Service) RunTask(ctx context.Context, task string) (TaskReport, error) {
	start := time.Now()
	tr := TaskReport{Task: task}

	var (
		n   int
		err error
	)
	switch task {
	case TaskCleanupRateLimits:
		n, err = s.limiter.CleanupExpired(ctx)
	case TaskArchiveResolved:
		n, err = s.aggregator.ArchiveOldResolvedAlerts(ctx, s.now())
	case TaskProcessEscalations:
		var sweep escalation.SweepResult
		sweep, err = s.escalation.ProcessPendingEscalations(ctx, s.now())
		n = sweep.Escalated
	default:
		return tr, models.NewValidationError("task", fmt.Sprintf("unknown maintenance task %q", task))
	}

	tr.Processed = n
	tr.Duration = time.Since(start)
	metrics.RecordMaintenance(task, n, err)
	if err != nil {
		tr.Error = err.Error()
		s.logger.Error().Err(err).Str("task", task).Msg("Maintenance task failed")
		return tr, fmt.Errorf("maintenance %s: %w", task, err)
	}
	s.logger.Debug().Str("task", task).Int("processed", n).Dur("duration", tr.Duration).Msg("Maintenance task completed")
	return tr, nil
}
