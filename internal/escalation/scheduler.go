// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package escalation raises unacknowledged alerts through severity tiers.
//
// Per alert the state machine is
//
//	none -> scheduled -> cancelled
//	                  -> fired -> scheduled (next tier)
//	                  -> fired -> exhausted
//
// The schedule record is the source of truth. Timing is delegated to a
// TaskScheduler; a firing re-checks the schedule and the alert inside one
// store transaction, so late, duplicate and racing deliveries are no-ops.
// ProcessPendingEscalations is the sweep that catches schedules whose task
// was never delivered.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
	"github.com/tomtom215/vigil/internal/taskqueue"
)

// TaskKind is the deferred task kind handled by the scheduler.
const TaskKind = "escalation"

// SystemActor is recorded on alert notes written by escalation.
const SystemActor = "escalation"

// TaskScheduler is the deferred scheduler contract. Delivery is at-or-after
// DueAt, at-least-once, and may occasionally not happen at all.
type TaskScheduler interface {
	Schedule(ctx context.Context, task taskqueue.Task) (string, error)
	Cancel(ctx context.Context, token string) error
}

// Notifier re-notifies an escalated alert.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *models.SecurityAlert, reason string) error
}

// Outcome results.
const (
	ResultEscalated = "escalated"
	ResultExhausted = "exhausted"
	ResultNoop      = "noop"
)

// Outcome describes what one ProcessEscalation call did.
type Outcome struct {
	AlertID   string          `json:"alert_id"`
	Level     int             `json:"level"`
	Result    string          `json:"result"`
	Reason    string          `json:"reason,omitempty"`
	From      models.Severity `json:"from,omitempty"`
	To        models.Severity `json:"to,omitempty"`
	NextDueAt *time.Time      `json:"next_due_at,omitempty"`
	Terminal  bool            `json:"terminal"`
	Notified  bool            `json:"notified"`
}

// SweepResult summarizes a ProcessPendingEscalations run.
type SweepResult struct {
	Checked   int `json:"checked"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type taskPayload struct {
	AlertID    string `json:"alert_id"`
	Level      int    `json:"level"`
	Generation int    `json:"generation,omitempty"`
}

// anyGeneration disables the generation check of process.
const anyGeneration = -1

// TaskID returns the deferred task id of an alert's escalation at level.
// Re-armed schedules carry their generation in the id.
func TaskID(alertID string, level, generation int) string {
	if generation == 0 {
		return fmt.Sprintf("%s:%s:%d", TaskKind, alertID, level)
	}
	return fmt.Sprintf("%s:%s:%d.%d", TaskKind, alertID, level, generation)
}

// Scheduler implements the escalation state machine.
type Scheduler struct {
	store    *store.Store
	tasks    TaskScheduler
	notifier Notifier
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler. tasks and notifier may be nil; without
// tasks only the sweep fires escalations.
func NewScheduler(s *store.Store, tasks TaskScheduler, notifier Notifier, cfg Config) *Scheduler {
	return &Scheduler{
		store:    s,
		tasks:    tasks,
		notifier: notifier,
		config:   cfg,
		logger:   logging.WithComponent("escalation"),
		now:      time.Now,
	}
}

// WithClock replaces the scheduler clock. Used by tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// SetNotifier sets the re-notification target after construction, which
// breaks the construction cycle with the alert orchestrator.
func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Schedule creates the escalation schedule for an open alert whose severity
// has a step. It returns false when the alert does not escalate. Scheduling
// while a schedule for the same or a later level is pending is a no-op. A
// cancelled, fired or exhausted schedule is replaced by a new generation, which
// re-arms an alert that was re-opened.
func (s *Scheduler) Schedule(ctx context.Context, alert *models.SecurityAlert) (bool, error) {
	step, ok := s.config.StepFor(alert.Severity)
	if !ok || alert.Status != models.StatusOpen {
		return false, nil
	}

	now := s.now()
	var sched *models.EscalationSchedule
	created := false
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		created = false
		existing, err := txn.GetSchedule(alert.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Pending() && existing.Level >= alert.EscalationLevel {
			sched = existing
			return nil
		}
		generation := 0
		if existing != nil {
			generation = existing.Generation
			if !existing.Pending() {
				generation++
			}
		}
		sched = &models.EscalationSchedule{
			AlertID:    alert.ID,
			DueAt:      now.Add(step.Timeout),
			ConfigID:   alert.Severity,
			Level:      alert.EscalationLevel,
			Generation: generation,
			State:      models.ScheduleScheduled,
			TaskToken:  TaskID(alert.ID, alert.EscalationLevel, generation),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		created = true
		return txn.PutSchedule(sched)
	})
	if err != nil {
		return false, fmt.Errorf("schedule escalation for %s: %w", alert.ID, err)
	}
	if !created {
		return sched.Pending(), nil
	}

	metrics.Escalations.WithLabelValues("scheduled").Inc()
	s.enqueue(ctx, sched)
	s.logger.Debug().
		Str("alert_id", alert.ID).
		Str("severity", string(alert.Severity)).
		Int("generation", sched.Generation).
		Time("due_at", sched.DueAt).
		Msg("Escalation scheduled")
	return true, nil
}

// enqueue hands a schedule to the deferred scheduler. Failures are logged;
// the sweep fires the schedule instead.
func (s *Scheduler) enqueue(ctx context.Context, sched *models.EscalationSchedule) {
	if s.tasks == nil {
		return
	}
	payload, err := json.Marshal(taskPayload{AlertID: sched.AlertID, Level: sched.Level, Generation: sched.Generation})
	if err != nil {
		s.logger.Error().Err(err).Str("alert_id", sched.AlertID).Msg("Failed to encode escalation task")
		return
	}
	_, err = s.tasks.Schedule(ctx, taskqueue.Task{
		ID:      sched.TaskToken,
		Kind:    TaskKind,
		DueAt:   sched.DueAt,
		Payload: payload,
	})
	if err != nil {
		metrics.Escalations.WithLabelValues("enqueue_error").Inc()
		s.logger.Warn().Err(err).Str("alert_id", sched.AlertID).Msg("Failed to enqueue escalation task; sweep will fire it")
	}
}

// ProcessEscalation fires the escalation of alertID at level. It is a no-op
// when the schedule was cancelled, already fired for level, is not due yet,
// or the alert is no longer open. Those cases return a noop Outcome and no
// error.
func (s *Scheduler) ProcessEscalation(ctx context.Context, alertID string, level int) (*Outcome, error) {
	return s.process(ctx, alertID, level, anyGeneration, s.now())
}

func (s *Scheduler) process(ctx context.Context, alertID string, level, generation int, now time.Time) (*Outcome, error) {
	var (
		out  *Outcome
		next *models.EscalationSchedule
	)
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		out = &Outcome{AlertID: alertID, Level: level, Result: ResultNoop}
		next = nil

		sched, err := txn.GetSchedule(alertID)
		if errors.Is(err, store.ErrNotFound) {
			out.Reason = "no schedule"
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case !sched.Pending():
			out.Reason = "schedule " + string(sched.State)
			return nil
		case sched.Level != level:
			out.Reason = fmt.Sprintf("schedule at level %d", sched.Level)
			return nil
		case generation != anyGeneration && sched.Generation != generation:
			out.Reason = fmt.Sprintf("schedule at generation %d", sched.Generation)
			return nil
		case now.Before(sched.DueAt):
			out.Reason = "not due"
			return nil
		}

		alert, err := txn.GetAlert(alertID)
		if err != nil && !errors.Is(err, models.ErrAlertNotFound) {
			return err
		}
		if alert == nil || alert.Status != models.StatusOpen {
			out.Reason = "alert not open"
			sched.State = models.ScheduleCancelled
			sched.Cancelled = true
			sched.UpdatedAt = now
			return txn.PutSchedule(sched)
		}

		step, ok := s.config.StepFor(sched.ConfigID)
		if !ok {
			out.Result = ResultExhausted
			out.Reason = "no step for " + string(sched.ConfigID)
			sched.State = models.ScheduleExhausted
			sched.UpdatedAt = now
			return txn.PutSchedule(sched)
		}

		out.From = alert.Severity
		alert.Severity = models.MaxSeverity(alert.Severity, step.Target)
		alert.EscalationLevel = level + 1
		alert.UpdatedAt = now
		alert.AddNote(models.AlertNote{
			Actor:     SystemActor,
			Action:    "escalated",
			Text:      fmt.Sprintf("%s -> %s after %s without acknowledgment", out.From, alert.Severity, step.Timeout),
			CreatedAt: now,
		})
		out.To = alert.Severity
		out.Result = ResultEscalated
		if err := txn.PutAlert(alert); err != nil {
			return err
		}

		nextStep, ok := s.config.StepFor(alert.Severity)
		if !ok {
			sched.State = models.ScheduleExhausted
			sched.Level = level + 1
			sched.UpdatedAt = now
			return txn.PutSchedule(sched)
		}
		next = &models.EscalationSchedule{
			AlertID:    alertID,
			DueAt:      now.Add(nextStep.Timeout),
			ConfigID:   alert.Severity,
			Level:      level + 1,
			Generation: sched.Generation,
			State:      models.ScheduleScheduled,
			TaskToken:  TaskID(alertID, level+1, sched.Generation),
			CreatedAt:  sched.CreatedAt,
			UpdatedAt:  now,
		}
		due := next.DueAt
		out.NextDueAt = &due
		return txn.PutSchedule(next)
	})
	if err != nil {
		metrics.Escalations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("process escalation for %s: %w", alertID, err)
	}

	if out.Result == ResultNoop {
		metrics.Escalations.WithLabelValues("noop").Inc()
		s.logger.Debug().Str("alert_id", alertID).Int("level", level).Str("reason", out.Reason).Msg("Escalation skipped")
		return out, nil
	}
	if out.Result == ResultExhausted {
		metrics.Escalations.WithLabelValues("exhausted").Inc()
		return out, nil
	}

	metrics.Escalations.WithLabelValues("fired").Inc()
	if next == nil {
		out.Terminal = true
		metrics.Escalations.WithLabelValues("exhausted").Inc()
	}
	out.Notified = s.renotify(ctx, alertID)
	if next != nil {
		s.enqueue(ctx, next)
	}

	s.logger.Warn().
		Str("alert_id", alertID).
		Int("level", level+1).
		Str("from", string(out.From)).
		Str("to", string(out.To)).
		Bool("terminal", out.Terminal).
		Msg("Alert escalated")
	return out, nil
}

// renotify re-reads the alert after commit and notifies only while it is
// still open, so an acknowledgment that won the race suppresses the message.
func (s *Scheduler) renotify(ctx context.Context, alertID string) bool {
	if s.notifier == nil {
		return false
	}
	var alert *models.SecurityAlert
	err := s.store.View(ctx, func(txn *store.Txn) error {
		var err error
		alert, err = txn.GetAlert(alertID)
		return err
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("alert_id", alertID).Msg("Failed to re-read escalated alert")
		return false
	}
	if alert.Status != models.StatusOpen {
		return false
	}
	if err := s.notifier.NotifyAlert(ctx, alert, "escalated"); err != nil {
		s.logger.Warn().Err(err).Str("alert_id", alertID).Msg("Escalation notification failed")
		return false
	}
	return true
}

// CancelEscalation cancels the pending schedule of an alert. Cancelling a
// missing, fired or cancelled schedule is a no-op.
func (s *Scheduler) CancelEscalation(ctx context.Context, alertID string) error {
	var token string
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		token = ""
		sched, err := txn.GetSchedule(alertID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !sched.Pending() {
			return nil
		}
		sched.State = models.ScheduleCancelled
		sched.Cancelled = true
		sched.UpdatedAt = s.now()
		token = sched.TaskToken
		return txn.PutSchedule(sched)
	})
	if err != nil {
		return fmt.Errorf("cancel escalation for %s: %w", alertID, err)
	}
	if token == "" {
		return nil
	}

	metrics.Escalations.WithLabelValues("cancelled").Inc()
	if s.tasks != nil {
		if err := s.tasks.Cancel(ctx, token); err != nil {
			// The schedule is already cancelled; a late task is a no-op.
			s.logger.Debug().Err(err).Str("alert_id", alertID).Msg("Failed to cancel escalation task")
		}
	}
	return nil
}

// ProcessPendingEscalations fires every scheduled escalation whose DueAt is
// at or before now. Safe to run concurrently with task deliveries.
func (s *Scheduler) ProcessPendingEscalations(ctx context.Context, now time.Time) (SweepResult, error) {
	type due struct {
		alertID    string
		level      int
		generation int
	}
	var pending []due
	err := s.store.ForEachSchedule(ctx, func(sched *models.EscalationSchedule) error {
		if !sched.Pending() || sched.DueAt.After(now) {
			return nil
		}
		pending = append(pending, due{alertID: sched.AlertID, level: sched.Level, generation: sched.Generation})
		if len(pending) >= s.config.SweepBatch {
			return store.ErrStopScan
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("scan escalation schedules: %w", err)
	}

	var res SweepResult
	for _, d := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++
		out, err := s.process(ctx, d.alertID, d.level, d.generation, now)
		switch {
		case err != nil:
			res.Failed++
			s.logger.Warn().Err(err).Str("alert_id", d.alertID).Msg("Sweep failed to process escalation")
		case out.Result == ResultNoop:
			res.Skipped++
		default:
			res.Escalated++
		}
	}

	if res.Checked > 0 {
		s.logger.Info().
			Int("checked", res.Checked).
			Int("escalated", res.Escalated).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("Processed pending escalations")
	}
	return res, nil
}

// HandleTask is the taskqueue handler for escalation tasks. Only store
// failures are returned, so the task is redelivered.
func (s *Scheduler) HandleTask(ctx context.Context, task *taskqueue.Task) error {
	var p taskPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("Dropping malformed escalation task")
		return nil
	}
	_, err := s.process(ctx, p.AlertID, p.Level, p.Generation, s.now())
	return err
}

// Register installs HandleTask on q.
func (s *Scheduler) Register(q *taskqueue.Queue) {
	q.RegisterHandler(TaskKind, s.HandleTask)
}

// Get returns the escalation schedule of an alert.
func (s *Scheduler) Get(ctx context.Context, alertID string) (*models.EscalationSchedule, error) {
	var sched *models.EscalationSchedule
	err := s.store.View(ctx, func(txn *store.Txn) error {
		var err error
		sched, err = txn.GetSchedule(alertID)
		return err
	})
	return sched, err
}

// Stats summarizes schedule states. Fired counts schedules that escalated at
// least once.
func (s *Scheduler) Stats(ctx context.Context, now time.Time) (models.EscalationStats, error) {
	var st models.EscalationStats
	err := s.store.ForEachSchedule(ctx, func(sched *models.EscalationSchedule) error {
		switch sched.State {
		case models.ScheduleScheduled:
			st.Scheduled++
			if !sched.DueAt.After(now) {
				st.Overdue++
			}
		case models.ScheduleCancelled:
			st.Cancelled++
		case models.ScheduleExhausted:
			st.Exhausted++
		}
		if sched.Level > 0 {
			st.Fired++
		}
		return nil
	})
	return st, err
}
