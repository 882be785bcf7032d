// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package notify delivers alert notifications.
//
// The engine only decides whether and at what severity to notify. Dispatcher
// turns that decision into deliveries: it picks the channels configured for
// the alert severity, filters recipients by their preferences (minimum
// severity, alert types, quiet hours), renders the message templates and
// hands the result to one Sender per channel.
//
// Senders:
//
//   - webhook: generic JSON webhook, circuit breaker and token bucket
//   - slack: Slack incoming webhook with severity colored attachments
//   - inapp: per-recipient inbox in the store, pushed to live stream clients
//   - email, sms, push: relayed to vigil.notify.<channel> for external workers
package notify

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// Channel is a notification channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelInApp   Channel = "inapp"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// AllChannels returns every known channel.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp, ChannelSlack, ChannelWebhook}
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	for _, known := range AllChannels() {
		if c == known {
			return true
		}
	}
	return false
}

// PerRecipient reports whether the channel delivers one message per
// recipient. Slack and webhook post once per alert.
func (c Channel) PerRecipient() bool {
	switch c {
	case ChannelSlack, ChannelWebhook:
		return false
	}
	return true
}

// Reaches reports whether r has an address on channel c.
func (c Channel) Reaches(r Recipient) bool {
	switch c {
	case ChannelEmail:
		return r.Email != ""
	case ChannelSMS:
		return r.Phone != ""
	case ChannelPush:
		return r.PushToken != ""
	case ChannelInApp:
		return r.ID != ""
	}
	return true
}

// Recipient is an administrator that receives alert notifications.
type Recipient struct {
	ID        string `koanf:"id" json:"id"`
	Email     string `koanf:"email" json:"email,omitempty"`
	Phone     string `koanf:"phone" json:"phone,omitempty"`
	PushToken string `koanf:"push_token" json:"push_token,omitempty"`
	Locale    string `koanf:"locale" json:"locale,omitempty"`

	// MinSeverity is the lowest severity delivered. Defaults to warning.
	MinSeverity models.Severity `koanf:"min_severity" json:"min_severity,omitempty"`

	// Types restricts delivery to these alert types. Empty means all.
	Types []string `koanf:"types" json:"types,omitempty"`

	Disabled   bool       `koanf:"disabled" json:"disabled,omitempty"`
	QuietHours QuietHours `koanf:"quiet_hours" json:"quiet_hours"`
}

// QuietHours suppresses non-emergency notifications between Start and End
// (hours of the day, End exclusive). A window may wrap midnight.
type QuietHours struct {
	Enabled bool `koanf:"enabled" json:"enabled"`
	Start   int  `koanf:"start" json:"start"`
	End     int  `koanf:"end" json:"end"`
}

// Contains reports whether hour h falls in the window.
func (q QuietHours) Contains(h int) bool {
	if !q.Enabled || q.Start == q.End {
		return false
	}
	if q.Start > q.End {
		return h >= q.Start || h < q.End
	}
	return h >= q.Start && h < q.End
}

// Message is one rendered notification handed to a Sender.
type Message struct {
	Alert      *models.SecurityAlert
	Recipients []Recipient
	Reason     string
	Rendered   Rendered
	Timestamp  time.Time
}

// Sender delivers messages on one channel.
type Sender interface {
	Channel() Channel
	Enabled() bool
	Send(ctx context.Context, msg *Message) error
}

// Notifier is the notification contract the engine depends on.
type Notifier interface {
	Send(ctx context.Context, alert *models.SecurityAlert, recipients []Recipient, channel Channel) error
}

// Broadcaster pushes live updates to connected stream clients.
type Broadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// Publisher publishes JSON payloads on the event bus.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, id string, v interface{}, meta map[string]string) error
}
