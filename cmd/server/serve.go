// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/vigil/internal/api"
	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/authz"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/middleware"
	"github.com/tomtom215/vigil/internal/store"
	"github.com/tomtom215/vigil/internal/supervisor"
	"github.com/tomtom215/vigil/internal/supervisor/services"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detection engine and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("environment", cfg.Server.Environment).
		Str("auth_mode", string(cfg.Security.Auth.Mode)).
		Str("event_backend", cfg.Events.Backend).
		Str("ratelimit_backend", cfg.RateLimit.Backend).
		Msg("Starting Vigil with supervisor tree")

	warnInsecureSettings(cfg)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{withBus: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing components")
		}
	}()

	httpHandler, enforcer, err := buildHTTPHandler(a)
	if err != nil {
		return err
	}
	defer enforcer.Close()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.Add(supervisor.LayerData, services.NewStoreGCService(store.NewGarbageCollector(a.store)))
	tree.Add(supervisor.LayerData, a.auditLog)
	tree.Add(supervisor.LayerData, services.NewMaintenanceService(a.alerts, cfg.Maintenance, logging.Logger()))

	tree.Add(supervisor.LayerMessaging, services.NewEventRouterService(a.eventRouter.Run))
	tree.Add(supervisor.LayerMessaging, services.NewTaskDispatcherService(a.queue))
	tree.Add(supervisor.LayerMessaging, services.NewWebSocketHubService(a.hub.RunWithContext))

	server := &http.Server{
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	tree.Add(supervisor.LayerAPI, services.NewHTTPServerService(cfg.Server.Addr(), server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	serveErr := tree.Run(ctx)
	if serveErr != nil {
		logging.Error().Err(serveErr).Msg("Supervisor tree stopped with error")
	}

	logging.Info().Msg("Vigil stopped")
	return serveErr
}

// buildHTTPHandler wires authentication, authorization and the admin API
// routes on top of the engine.
func buildHTTPHandler(a *app) (http.Handler, *authz.Enforcer, error) {
	cfg := a.cfg

	var jwtManager *auth.JWTManager
	if cfg.Security.Auth.Mode == auth.ModeJWT {
		m, err := auth.NewJWTManager(cfg.Security.Auth)
		if err != nil {
			return nil, nil, fmt.Errorf("create JWT manager: %w", err)
		}
		jwtManager = m
	}
	authMW, err := auth.NewMiddleware(cfg.Security.Auth, jwtManager, api.WriteError)
	if err != nil {
		return nil, nil, fmt.Errorf("create auth middleware: %w", err)
	}

	enforcer, err := authz.NewEnforcer(cfg.Security.Authz)
	if err != nil {
		return nil, nil, fmt.Errorf("create authorization enforcer: %w", err)
	}
	authzMW := authz.NewMiddleware(enforcer, api.WriteError)

	perf := middleware.NewPerformanceMonitor(cfg.API.PerformanceWindow, cfg.API.SlowRequestThreshold)

	readiness := []api.ReadinessCheck{{Name: "store", Check: a.store.Ping}}
	if a.archive != nil {
		readiness = append(readiness, api.ReadinessCheck{Name: "archive", Check: a.archive.Ping})
	}
	if a.bus != nil {
		readiness = append(readiness, api.ReadinessCheck{Name: "events", Check: a.bus.Ping})
	}

	handler, err := api.NewHandler(api.Deps{
		Alerts:      a.alerts,
		Threats:     a.threats,
		Escalation:  a.escalation,
		Detection:   a.detection,
		Publisher:   a.publisher(),
		Hub:         a.hub,
		Inbox:       a.inbox,
		Audit:       a.auditLog,
		Archive:     a.archive,
		Performance: perf,
		AuthMode:    cfg.Security.Auth.Mode,
		Readiness:   readiness,
	}, cfg.API)
	if err != nil {
		enforcer.Close()
		return nil, nil, fmt.Errorf("create API handler: %w", err)
	}

	chiCfg := api.DefaultChiMiddlewareConfig()
	chiCfg.CORSAllowedOrigins = cfg.API.CORSOrigins
	chiCfg.RateLimitRequests = cfg.API.RateLimitRequests
	chiCfg.RateLimitWindow = cfg.API.RateLimitWindow
	chiCfg.RateLimitDisabled = cfg.API.RateLimitDisabled

	router, err := api.NewRouter(handler, api.NewChiMiddleware(chiCfg), authMW, authzMW, perf, cfg.API)
	if err != nil {
		enforcer.Close()
		return nil, nil, fmt.Errorf("create router: %w", err)
	}
	return router.Setup(), enforcer, nil
}

// warnInsecureSettings logs settings that are acceptable in development but
// dangerous when exposed.
func warnInsecureSettings(cfg *config.Config) {
	if cfg.Security.Auth.Mode == auth.ModeNone {
		logging.Warn().Msg("============================================================")
		logging.Warn().Msg("  SECURITY WARNING: Authentication is DISABLED (auth mode none)")
		logging.Warn().
			Str("anonymous_role", string(cfg.Security.Auth.AnonymousRole)).
			Msg("  Every request is trusted as the anonymous principal")
		logging.Warn().Msg("  Use only for local development or isolated networks")
		logging.Warn().Msg("============================================================")
	}
	if cfg.API.RateLimitDisabled {
		logging.Warn().Msg("API rate limiting is DISABLED")
	}
	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("============================================================")
		logging.Warn().Msg("  SECURITY WARNING: CORS allows any origin (cors_origins=*)")
		logging.Warn().Msg("  With authentication enabled any website can call the API")
		logging.Warn().Msg("  with a token a user's browser holds. Set explicit origins.")
		logging.Warn().Msg("============================================================")
	}
	if !cfg.Notify.Enabled {
		logging.Warn().Msg("Notifications are disabled; alerts are stored but nobody is told")
	}
}
