// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/vigil/internal/alerts"
	"github.com/tomtom215/vigil/internal/audit"
)

func newMaintenanceCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "maintenance [task]",
		Short: "Run maintenance tasks once and print the report",
		Long: `Runs one maintenance task, or all of them in order when no task is given:

  ` + strings.Join(alerts.MaintenanceTasks, "\n  ") + `

The command opens the store directly, so the server must not be running.
Use POST /api/v1/maintenance/{task} against a running server instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			task := ""
			if len(args) == 1 {
				task = args[0]
			}
			report, runErr := runMaintenance(ctx, a.alerts, task)

			actor := audit.Actor{ID: "cli", Type: "system", AuthMethod: "local"}
			a.auditLog.LogMaintenance(ctx, actor, taskLabel(task), map[string]interface{}{
				"failed": report.Failed(),
			})

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return runErr
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Abort the run after this long")
	return cmd
}

// runMaintenance runs task, or every task when task is empty. The report is
// never nil.
func runMaintenance(ctx context.Context, m *alerts.Service, task string) (*alerts.MaintenanceReport, error) {
	if task == "" {
		report, err := m.RunMaintenance(ctx)
		if report == nil {
			report = &alerts.MaintenanceReport{StartedAt: time.Now()}
		}
		return report, err
	}

	report := &alerts.MaintenanceReport{StartedAt: time.Now()}
	tr, err := m.RunTask(ctx, task)
	report.Tasks = append(report.Tasks, tr)
	if err != nil {
		return report, errors.Join(fmt.Errorf("task %s failed", task), err)
	}
	return report, nil
}

func taskLabel(task string) string {
	if task == "" {
		return "all"
	}
	return task
}
