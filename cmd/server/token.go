// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
)

// errNotJWTMode is returned when tokens are requested while authentication
// is disabled.
var errNotJWTMode = errors.New("tokens can only be issued in jwt auth mode")

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Signs an HS256 token with the configured secret and prints it.

Roles: viewer, analyst, admin, service. --ttl 0 uses the configured
security.auth.token_ttl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			token, effectiveTTL, err := issueToken(cfg, subject, role, ttl)
			if err != nil {
				return err
			}
			logging.NewSecurityLogger().LogTokenIssued(subject, role, effectiveTTL.String())
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (user or service name)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "Role granted by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// issueToken validates the request and mints the token. It returns the
// lifetime actually applied.
func issueToken(cfg *config.Config, subject, role string, ttl time.Duration) (string, time.Duration, error) {
	if cfg.Security.Auth.Mode != auth.ModeJWT {
		return "", 0, errNotJWTMode
	}
	if subject == "" {
		return "", 0, errors.New("subject must not be empty")
	}
	if ttl < 0 {
		return "", 0, errors.New("ttl must not be negative")
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return "", 0, err
	}
	if ttl == 0 {
		ttl = cfg.Security.Auth.TokenTTL
	}

	m, err := auth.NewJWTManager(cfg.Security.Auth)
	if err != nil {
		return "", 0, fmt.Errorf("create JWT manager: %w", err)
	}
	token, err := m.GenerateToken(subject, r, ttl)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return token, ttl, nil
}
