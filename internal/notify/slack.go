// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlackSender posts alerts to a Slack incoming webhook, once per alert.
type SlackSender struct {
	url    string
	footer string
	poster *poster
}

// NewSlackSender creates a Slack sender. It is disabled without a URL.
func NewSlackSender(cfg SlackConfig) *SlackSender {
	return &SlackSender{
		url:    cfg.WebhookURL,
		footer: cfg.Footer,
		poster: newPoster("notify-slack", cfg.Timeout, cfg.RatePerSecond, 1),
	}
}

// Channel implements Sender.
func (s *SlackSender) Channel() Channel { return ChannelSlack }

// Enabled implements Sender.
func (s *SlackSender) Enabled() bool { return s.url != "" }

// Send implements Sender.
func (s *SlackSender) Send(ctx context.Context, msg *Message) error {
	if s.url == "" {
		return nil
	}
	if err := s.poster.post(ctx, s.url, nil, s.payload(msg)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (s *SlackSender) payload(msg *Message) slackPayload {
	alert := msg.Alert
	pretext := fmt.Sprintf("%s *Security Alert - %s*", SeverityEmoji(alert.Severity), strings.ToUpper(string(alert.Severity)))
	if msg.Reason == "escalated" {
		pretext += " (escalated)"
	}
	return slackPayload{
		Attachments: []slackAttachment{{
			Color:   SeverityColor(alert.Severity),
			Pretext: pretext,
			Text:    msg.Rendered.Slack,
			Fields: []slackField{
				{Title: "Alert ID", Value: alert.ID, Short: true},
				{Title: "Time", Value: msg.Timestamp.UTC().Format(time.RFC3339), Short: true},
				{Title: "Occurrences", Value: strconv.FormatInt(alert.OccurrenceCount, 10), Short: true},
				{Title: "Status", Value: string(alert.Status), Short: true},
			},
			Footer: s.footer,
		}},
	}
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color   string       `json:"color"`
	Pretext string       `json:"pretext"`
	Text    string       `json:"text"`
	Fields  []slackField `json:"fields"`
	Footer  string       `json:"footer,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
