// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "vigil",
		Short: "Security threat detection and alert escalation engine",
		Long: `Vigil turns security signals into deduplicated, rate-limited alerts,
notifies the right people on the right channels and escalates alerts that
nobody acknowledges.

Configuration is read from a YAML file (--config, $CONFIG_PATH or the default
locations) and VIGIL_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override the configured log format (json or console)")

	root.AddCommand(
		newServeCommand(opts),
		newMaintenanceCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

// loadConfig loads and validates the configuration, applies flag overrides
// and initializes logging.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	logging.Init(cfg.Logging)
	return cfg, nil
}
