// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package services provides suture.Service wrappers for Vigil components.

Each wrapper translates one lifecycle shape into suture's Serve(ctx) error:

	HTTPServerService    ListenAndServe / Shutdown (admin API)
	RunnerService        a blocking run(ctx) func (WebSocket hub, Watermill router)
	BackgroundService    Start / Stop / IsRunning (task dispatcher, Badger GC)
	MaintenanceService   periodic alerts.Service.RunMaintenance

Wrappers depend on small interfaces rather than concrete types, so tests
drive them with fakes.

Every wrapper implements fmt.Stringer; suture uses the name in its
lifecycle log events.
*/
package services
