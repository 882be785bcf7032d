// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package notify

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// Config holds notification configuration.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// Channels maps a severity to the channels it notifies on.
	Channels map[string][]Channel `koanf:"channels"`

	// Recipients are matched against each alert by their preferences.
	Recipients []Recipient `koanf:"recipients"`

	// DefaultRecipients receive non-info alerts that matched no recipient.
	DefaultRecipients []Recipient `koanf:"default_recipients"`

	// Timezone evaluates quiet hours. Defaults to UTC.
	Timezone string `koanf:"timezone"`

	Webhook WebhookConfig `koanf:"webhook"`
	Slack   SlackConfig   `koanf:"slack"`
	Inbox   InboxConfig   `koanf:"inbox"`
	Relay   RelayConfig   `koanf:"relay"`
}

// WebhookConfig configures the generic webhook sender.
type WebhookConfig struct {
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
	Timeout time.Duration     `koanf:"timeout"`

	// RatePerSecond and Burst bound outgoing requests.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
}

// SlackConfig configures the Slack sender.
type SlackConfig struct {
	WebhookURL    string        `koanf:"webhook_url"`
	Timeout       time.Duration `koanf:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Footer        string        `koanf:"footer"`
}

// InboxConfig configures the in-app inbox.
type InboxConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// RelayConfig configures channels relayed to external workers.
type RelayConfig struct {
	Channels []Channel `koanf:"channels"`
}

// DefaultConfig returns production defaults. SMS stays off; it is enabled
// per deployment by adding it to a severity's channels.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Channels: map[string][]Channel{
			string(models.SeverityInfo):      {ChannelInApp},
			string(models.SeverityWarning):   {ChannelEmail, ChannelPush, ChannelInApp, ChannelSlack},
			string(models.SeverityCritical):  {ChannelEmail, ChannelPush, ChannelInApp, ChannelSlack, ChannelWebhook},
			string(models.SeverityEmergency): {ChannelEmail, ChannelPush, ChannelInApp, ChannelSlack, ChannelWebhook},
		},
		Timezone: "UTC",
		Webhook: WebhookConfig{
			Timeout:       10 * time.Second,
			RatePerSecond: 2,
			Burst:         5,
		},
		Slack: SlackConfig{
			Timeout:       10 * time.Second,
			RatePerSecond: 1,
			Footer:        "Vigil Security",
		},
		Inbox: InboxConfig{TTL: 30 * 24 * time.Hour},
		Relay: RelayConfig{Channels: []Channel{ChannelEmail, ChannelSMS, ChannelPush}},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	for sev, channels := range c.Channels {
		if !models.Severity(sev).Valid() {
			return fmt.Errorf("unknown severity %q in notify.channels", sev)
		}
		for _, ch := range channels {
			if !ch.Valid() {
				return fmt.Errorf("unknown channel %q for %s", ch, sev)
			}
		}
	}
	for _, ch := range c.Relay.Channels {
		if !ch.Valid() || !ch.PerRecipient() || ch == ChannelInApp {
			return fmt.Errorf("channel %q cannot be relayed", ch)
		}
	}
	for i, r := range append(append([]Recipient{}, c.Recipients...), c.DefaultRecipients...) {
		if r.ID == "" {
			return fmt.Errorf("recipient %d has no id", i)
		}
		if r.MinSeverity != "" && !r.MinSeverity.Valid() {
			return fmt.Errorf("recipient %s: unknown min_severity %q", r.ID, r.MinSeverity)
		}
		q := r.QuietHours
		if q.Start < 0 || q.Start > 23 || q.End < 0 || q.End > 23 {
			return fmt.Errorf("recipient %s: quiet hours must be within 0-23", r.ID)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid notify.timezone: %w", err)
	}
	if c.Webhook.URL != "" {
		if err := validateURL(c.Webhook.URL); err != nil {
			return fmt.Errorf("notify.webhook.url: %w", err)
		}
	}
	if c.Slack.WebhookURL != "" {
		if err := validateURL(c.Slack.WebhookURL); err != nil {
			return fmt.Errorf("notify.slack.webhook_url: %w", err)
		}
	}
	if c.Inbox.TTL <= 0 {
		return fmt.Errorf("notify.inbox.ttl must be positive")
	}
	return nil
}

// ChannelsFor returns the channels of a severity.
func (c *Config) ChannelsFor(sev models.Severity) []Channel {
	return c.Channels[string(sev)]
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
