// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package eventprocessor

// SubjectRoot prefixes every subject the engine publishes.
const SubjectRoot = "vigil"

const (
	TopicSignals = SubjectRoot + ".signals"
	TopicTasks   = SubjectRoot + ".tasks"
	TopicAlerts  = SubjectRoot + ".alerts"
	TopicPoison  = SubjectRoot + ".dlq"

	topicNotifyPrefix = SubjectRoot + ".notify."
)

// Metadata keys set on published messages.
const (
	MetaKind      = "kind"
	MetaAlertID   = "alert_id"
	MetaTaskID    = "task_id"
	MetaChannel   = "channel"
	MetaRequestID = "request_id"
)

// NotificationTopic returns the relay subject for a notification channel.
func NotificationTopic(channel string) string {
	return topicNotifyPrefix + channel
}
