// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package archive is the cold store for resolved alerts.

Resolved alerts older than the aggregation archive age leave the Badger hot
store during maintenance. Before they are removed they are written here, to
a DuckDB table that keeps the full alert document next to a few indexed
columns (type, source, timestamps) for later forensic queries.

The archive implements aggregation.Archiver:

	arch, err := archive.Open(cfg.Archive)
	if err != nil {
		return err
	}
	defer arch.Close()
	agg := aggregation.New(st, cfg.Aggregation, arch)

The same database file also hosts the audit_events table; see DB.
*/
package archive
