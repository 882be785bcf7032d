// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package supervisor runs Vigil's long-lived components under a suture v4
supervisor tree.

# Tree Layout

	vigil (root)
	├── data-layer
	│   ├── store-gc            Badger value-log GC
	│   ├── audit-logger        buffered audit trail flusher
	│   └── maintenance         periodic cleanup, archive, escalation sweep
	├── messaging-layer
	│   ├── event-router        Watermill router (signals, tasks)
	│   ├── task-dispatcher     deferred task polling
	│   └── websocket-hub       live alert stream
	└── api-layer
	    └── http-server         admin API

Each layer is its own supervisor, so a component that keeps failing is
backed off inside its layer while the other layers keep serving. Run blocks
until the context is canceled and reports services that overran
supervisor.shutdown_timeout.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
		return err
	}
	tree.Add(supervisor.LayerData, services.NewMaintenanceService(svc, mcfg, logger))
	tree.Add(supervisor.LayerAPI, services.NewHTTPServerService(":8088", server, 10*time.Second))
	return tree.Run(ctx)

Lifecycle events (restarts, backoff, timeouts) are logged through sutureslog
on the slog handler that forwards to zerolog.

Service wrappers live in the services subpackage.
*/
package supervisor
