// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// MessageTypeInbox is the live stream message type of new inbox items.
const MessageTypeInbox = "security_notification"

// InboxItem is one in-app notification.
type InboxItem struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	AlertID     string           `json:"alert_id"`
	AlertType   models.AlertType `json:"alert_type"`
	Severity    models.Severity  `json:"severity"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	Reason      string           `json:"reason"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
}

// InboxSender writes in-app notifications to the store and pushes them to
// live stream clients.
type InboxSender struct {
	store       *store.Store
	ttl         time.Duration
	broadcaster Broadcaster
}

// NewInboxSender creates an inbox sender. broadcaster may be nil.
func NewInboxSender(s *store.Store, cfg InboxConfig, broadcaster Broadcaster) *InboxSender {
	return &InboxSender{store: s, ttl: cfg.TTL, broadcaster: broadcaster}
}

// Channel implements Sender.
func (b *InboxSender) Channel() Channel { return ChannelInApp }

// Enabled implements Sender.
func (b *InboxSender) Enabled() bool { return b.store != nil }

// Send implements Sender.
func (b *InboxSender) Send(ctx context.Context, msg *Message) error {
	items := make([]*InboxItem, 0, len(msg.Recipients))
	for _, r := range msg.Recipients {
		items = append(items, &InboxItem{
			ID:          uuid.NewString(),
			RecipientID: r.ID,
			AlertID:     msg.Alert.ID,
			AlertType:   msg.Alert.Type,
			Severity:    msg.Alert.Severity,
			Title:       msg.Rendered.Subject,
			Body:        msg.Rendered.Body,
			Reason:      msg.Reason,
			CreatedAt:   msg.Timestamp,
		})
	}

	err := b.store.Update(ctx, func(txn *store.Txn) error {
		for _, item := range items {
			if err := txn.SetWithTTL(store.InboxKey(item.RecipientID, item.CreatedAt, item.ID), item, b.ttl); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}

	if b.broadcaster != nil {
		for _, item := range items {
			b.broadcaster.BroadcastJSON(MessageTypeInbox, item)
		}
	}
	return nil
}

// List returns up to limit inbox items of a recipient, newest first.
func (b *InboxSender) List(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*InboxItem, error) {
	var items []*InboxItem
	err := b.store.ScanPrefix(ctx, store.InboxPrefix(recipientID), func(key string, val []byte) error {
		var item InboxItem
		if err := json.Unmarshal(val, &item); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if unreadOnly && item.Read {
			return nil
		}
		items = append(items, &item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys sort oldest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// MarkRead marks one inbox item read and reports whether it was found.
func (b *InboxSender) MarkRead(ctx context.Context, recipientID, id string) (bool, error) {
	found := false
	err := b.store.Update(ctx, func(txn *store.Txn) error {
		found = false
		var key string
		err := txn.ScanKeys(store.InboxPrefix(recipientID), func(k string) error {
			if strings.HasSuffix(k, "/"+id) {
				key = k
				return store.ErrStopScan
			}
			return nil
		})
		if err != nil || key == "" {
			return err
		}

		var item InboxItem
		if err := txn.Get(key, &item); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		found = true
		if item.Read {
			return nil
		}
		item.Read = true
		remaining := b.ttl - time.Since(item.CreatedAt)
		if remaining <= 0 {
			return txn.Delete(key)
		}
		return txn.SetWithTTL(key, &item, remaining)
	})
	return found, err
}
