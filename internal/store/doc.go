// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package store provides the transactional key/document store used by every
stateful component of the engine.

The store is a thin layer over BadgerDB v4. Badger transactions are
optimistic and serializable: a read-modify-write closure that loses a race
against a concurrent writer fails at commit time with badger.ErrConflict.
Update re-runs the whole closure in that case, so callers express each
mutation as a pure function of what they read and never hold locks.

# Transactions

	err := st.Update(ctx, func(txn *store.Txn) error {
	    var alert models.SecurityAlert
	    if err := txn.Get(store.AlertKey(id), &alert); err != nil {
	        return err
	    }
	    alert.OccurrenceCount++
	    return txn.Set(store.AlertKey(id), &alert)
	})

Errors returned by the closure are passed through untouched. Failures of the
storage engine itself (closed database, commit errors, exhausted conflict
retries) are wrapped with models.ErrTransientStore so callers can apply their
failure policy with models.IsTransient.

# Key Layout

All keys are plain strings with a "/" separated prefix per record kind. See
keys.go for the full layout. Range queries are prefix scans.

# Garbage Collection

GarbageCollector runs Badger value log GC on an interval. It follows the
Start/Stop lifecycle used by the supervisor's service wrappers.
*/
package store
