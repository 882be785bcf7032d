// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/vigil/internal/aggregation"
	"github.com/tomtom215/vigil/internal/alerts"
	"github.com/tomtom215/vigil/internal/archive"
	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/escalation"
	"github.com/tomtom215/vigil/internal/eventprocessor"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/notify"
	"github.com/tomtom215/vigil/internal/ratelimit"
	"github.com/tomtom215/vigil/internal/store"
	"github.com/tomtom215/vigil/internal/taskqueue"
	"github.com/tomtom215/vigil/internal/threatscore"
	ws "github.com/tomtom215/vigil/internal/websocket"
)

// Durable consumer names on the event bus.
const (
	durableDetection = "vigil-detection"
	durableTasks     = "vigil-tasks"
)

// auditMemoryCapacity bounds the audit trail when the archive is disabled.
const auditMemoryCapacity = 10000

// app holds the engine's components. Fields that are optional for a
// command stay nil.
type app struct {
	cfg *config.Config

	store    *store.Store
	archive  *archive.Archive
	auditLog *audit.Logger
	limiter  *ratelimit.Limiter

	bus         *eventprocessor.Bus
	eventRouter *eventprocessor.Router
	queue       *taskqueue.Queue
	hub         *ws.Hub
	inbox       *notify.InboxSender

	threats    *threatscore.Service
	escalation *escalation.Scheduler
	alerts     *alerts.Service
	detection  *detection.Engine

	closers []func() error
}

// appOptions selects the runtime parts. The one-shot commands run without
// the event bus and the live stream.
type appOptions struct {
	withBus bool
}

// newApp opens storage and builds the service graph. On error everything
// opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return a, err
	}
	if opts.withBus {
		if err := a.openBus(ctx); err != nil {
			return a, err
		}
	}
	if err := a.openLimiter(ctx); err != nil {
		return a, err
	}
	if err := a.buildServices(); err != nil {
		return a, err
	}
	if a.eventRouter != nil {
		if err := a.attachConsumers(); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	s, err := store.Open(a.cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	var auditStore audit.Store
	if a.cfg.Archive.Enabled {
		arc, err := archive.Open(a.cfg.Archive)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		a.archive = arc
		a.closers = append(a.closers, arc.Close)

		duck := audit.NewDuckDBStore(arc.DB())
		if err := duck.CreateTable(ctx); err != nil {
			return fmt.Errorf("create audit table: %w", err)
		}
		auditStore = duck
	} else {
		logging.Warn().Msg("Archive disabled; resolved alerts are deleted and the audit trail is kept in memory")
		auditStore = audit.NewMemoryStore(auditMemoryCapacity)
	}

	a.auditLog = audit.NewLogger(auditStore, a.cfg.Audit)
	// Closed before the archive so buffered events reach DuckDB.
	a.closers = append(a.closers, a.auditLog.Close)
	return nil
}

func (a *app) openBus(ctx context.Context) error {
	bus, err := eventprocessor.NewBus(ctx, a.cfg.Events)
	if err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	a.bus = bus
	a.closers = append(a.closers, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return bus.Close(closeCtx)
	})

	router, err := bus.NewRouter()
	if err != nil {
		return fmt.Errorf("create event router: %w", err)
	}
	a.eventRouter = router
	a.closers = append(a.closers, router.Close)

	a.queue = taskqueue.New(a.store, bus.Publisher(), a.cfg.TaskQueue)
	a.hub = ws.NewHub()
	return nil
}

func (a *app) openLimiter(ctx context.Context) error {
	var backend ratelimit.Backend
	switch a.cfg.RateLimit.Backend {
	case "redis":
		rb, err := ratelimit.NewRedisBackend(ctx, a.cfg.RateLimit.Redis)
		if err != nil {
			return fmt.Errorf("connect rate limit redis: %w", err)
		}
		a.closers = append(a.closers, rb.Close)
		backend = rb
	default:
		backend = ratelimit.NewStoreBackend(a.store)
	}
	a.limiter = ratelimit.New(backend, a.cfg.RateLimit)
	return nil
}

func (a *app) buildServices() error {
	var archiver aggregation.Archiver
	if a.archive != nil {
		archiver = a.archive
	}
	aggregator := aggregation.New(a.store, a.cfg.Aggregation, archiver)

	a.threats = threatscore.NewService(a.store, a.cfg.ThreatScore)

	var tasks escalation.TaskScheduler
	if a.queue != nil {
		tasks = a.queue
	}
	a.escalation = escalation.NewScheduler(a.store, tasks, nil, a.cfg.Escalation)
	if a.queue != nil {
		a.escalation.Register(a.queue)
	}

	dispatcher := a.newDispatcher()

	deps := alerts.Deps{
		Store:      a.store,
		Limiter:    a.limiter,
		Aggregator: aggregator,
		Threats:    a.threats,
		Escalation: a.escalation,
		Notifier:   dispatcher,
		Audit:      a.auditLog,
	}
	if a.hub != nil {
		deps.Broadcaster = a.hub
	}
	svc, err := alerts.New(deps, a.cfg.Alerts)
	if err != nil {
		return fmt.Errorf("create alert service: %w", err)
	}
	a.alerts = svc
	// Escalation re-notifies through the alert service so the notification
	// is recorded on the alert.
	a.escalation.SetNotifier(svc)

	a.detection = detection.NewEngine(svc, detection.NewDefaultDetectors(a.store, a.cfg.Detection)...)
	return nil
}

// newDispatcher registers a sender for every configured channel.
func (a *app) newDispatcher() *notify.Dispatcher {
	ncfg := a.cfg.Notify

	var broadcaster notify.Broadcaster
	if a.hub != nil {
		broadcaster = a.hub
	}
	a.inbox = notify.NewInboxSender(a.store, ncfg.Inbox, broadcaster)
	senders := []notify.Sender{a.inbox}

	if ncfg.Webhook.URL != "" {
		senders = append(senders, notify.NewWebhookSender(ncfg.Webhook))
	}
	if ncfg.Slack.WebhookURL != "" {
		senders = append(senders, notify.NewSlackSender(ncfg.Slack))
	}
	if a.bus != nil {
		for _, ch := range ncfg.Relay.Channels {
			senders = append(senders, notify.NewRelaySender(ch, a.bus.Publisher()))
		}
	} else if len(ncfg.Relay.Channels) > 0 {
		logging.Debug().Msg("Relay channels need the event bus; skipped")
	}
	return notify.NewDispatcher(ncfg, senders...)
}

func (a *app) attachConsumers() error {
	detSub, err := a.bus.Subscriber(durableDetection)
	if err != nil {
		return fmt.Errorf("subscribe signals: %w", err)
	}
	detection.NewWatermillHandler(a.detection).Attach(a.eventRouter, detSub)

	taskSub, err := a.bus.Subscriber(durableTasks)
	if err != nil {
		return fmt.Errorf("subscribe tasks: %w", err)
	}
	a.queue.Attach(a.eventRouter, taskSub)
	return nil
}

// publisher returns the bus publisher, or nil without a bus.
func (a *app) publisher() *eventprocessor.Publisher {
	if a.bus == nil {
		return nil
	}
	return a.bus.Publisher()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
