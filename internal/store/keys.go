// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// Key prefixes. Every record kind lives under its own prefix so that range
// queries never cross kinds.
const (
	PrefixAlert       = "alert/"
	PrefixAggIndex    = "aggidx/"
	PrefixIdempotency = "idem/"
	PrefixEscalation  = "esc/"
	PrefixScore       = "score/"
	PrefixBlocked     = "blocked/"
	PrefixActionLog   = "actionlog/"
	PrefixRateLimit   = "rl/"
	PrefixWindow      = "win/"
	PrefixProfile     = "profile/"
	PrefixTaskDue     = "task/due/"
	PrefixTaskID      = "task/id/"
	PrefixInbox       = "inbox/"

	healthKey = "meta/health"
)

// AlertKey returns the key of an alert document.
func AlertKey(id string) string {
	return PrefixAlert + id
}

// AggIndexKey returns the key mapping an aggregation key to its current alert.
func AggIndexKey(aggregationKey string) string {
	return PrefixAggIndex + aggregationKey
}

// IdempotencyKey returns the key recording a caller supplied idempotency key.
func IdempotencyKey(key string) string {
	return PrefixIdempotency + key
}

// EscalationKey returns the key of the escalation schedule of an alert.
func EscalationKey(alertID string) string {
	return PrefixEscalation + alertID
}

// ScoreKey returns the key of an entity's threat score.
func ScoreKey(ref models.EntityRef) string {
	return PrefixScore + string(ref.Type) + "/" + ref.ID
}

// BlockedKey returns the key of one action recorded against an entity.
func BlockedKey(ref models.EntityRef, action models.ThreatAction) string {
	return BlockedEntityPrefix(ref) + string(action)
}

// BlockedEntityPrefix returns the prefix holding every action recorded against an entity.
func BlockedEntityPrefix(ref models.EntityRef) string {
	return PrefixBlocked + string(ref.Type) + "/" + ref.ID + "/"
}

// ActionLogKey returns the exactly-once ledger key for a tier action in an epoch.
func ActionLogKey(ref models.EntityRef, action models.ThreatAction, epoch int64) string {
	return fmt.Sprintf("%s%s/%s/%s/%d", PrefixActionLog, ref.Type, ref.ID, action, epoch)
}

// RateLimitKey returns the key of a rate limit window record.
func RateLimitKey(limitKey string) string {
	return PrefixRateLimit + limitKey
}

// WindowStreamPrefix returns the prefix of one sliding-window stream for a subject.
func WindowStreamPrefix(stream, subject string) string {
	return PrefixWindow + stream + "/" + escapeSegment(subject) + "/"
}

// WindowEventKey returns the key of one event in a sliding-window stream.
// Keys sort by event time within the stream.
func WindowEventKey(stream, subject string, at time.Time, id string) string {
	return WindowStreamPrefix(stream, subject) + TimeSegment(at) + "/" + id
}

// ProfileKey returns the key of a detector profile document.
func ProfileKey(kind, subject string) string {
	return PrefixProfile + kind + "/" + escapeSegment(subject)
}

// TaskDueKey returns the due index key of a deferred task.
func TaskDueKey(due time.Time, taskID string) string {
	return PrefixTaskDue + TimeSegment(due) + "/" + taskID
}

// TaskIDKey returns the key of a deferred task document.
func TaskIDKey(taskID string) string {
	return PrefixTaskID + taskID
}

// InboxKey returns the key of an in-app notification for a recipient.
func InboxKey(recipient string, at time.Time, id string) string {
	return InboxPrefix(recipient) + TimeSegment(at) + "/" + id
}

// InboxPrefix returns the prefix of a recipient's in-app inbox.
func InboxPrefix(recipient string) string {
	return PrefixInbox + escapeSegment(recipient) + "/"
}

// TimeSegment encodes t as a fixed width, lexically sortable key segment.
func TimeSegment(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

// escapeSegment keeps "/" inside identifiers from splitting a key segment.
func escapeSegment(s string) string {
	return strings.ReplaceAll(s, "/", "%2F")
}
