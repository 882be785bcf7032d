// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package taskqueue implements deferred tasks: work that must run at or after
// a due time without any component holding a timer for it.
//
// Schedule writes the task and a due index entry in one Badger transaction
// and returns immediately. A dispatcher polls the due index and publishes
// each due task to the vigil.tasks topic; a router handler consumes the topic
// and invokes the handler registered for the task kind. Delivery is
// at-least-once: a task is removed from the index only after it was
// published, and handlers must tolerate duplicates.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/vigil/internal/eventprocessor"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/store"
)

// Task is one deferred unit of work.
type Task struct {
	// ID is caller chosen and unique. Scheduling an existing ID is a no-op.
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	DueAt     time.Time       `json:"due_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// Handler runs a due task. Returning an error redelivers it.
type Handler func(ctx context.Context, task *Task) error

// Config holds task queue configuration.
type Config struct {
	// PollInterval is how often the dispatcher scans the due index.
	PollInterval time.Duration `koanf:"poll_interval"`

	// BatchSize bounds tasks dispatched per poll.
	BatchSize int `koanf:"batch_size"`

	// RetryDelay postpones a task whose publish failed.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
		RetryDelay:   10 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry_delay must be positive")
	}
	return nil
}

// ErrUnknownKind is returned by Run for a task kind without a handler.
var ErrUnknownKind = errors.New("no handler for task kind")

// Queue is a persistent deferred task queue.
type Queue struct {
	store     *store.Store
	publisher *eventprocessor.Publisher
	config    Config
	logger    zerolog.Logger
	now       func() time.Time

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a queue. The publisher may be nil, in which case the dispatcher
// runs due tasks inline instead of publishing them.
func New(s *store.Store, pub *eventprocessor.Publisher, cfg Config) *Queue {
	return &Queue{
		store:     s,
		publisher: pub,
		config:    cfg,
		logger:    logging.WithComponent("taskqueue"),
		now:       time.Now,
		handlers:  make(map[string]Handler),
	}
}

// WithClock replaces the queue clock. Used by tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// RegisterHandler sets the handler for a task kind.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[kind] = h
}

// Schedule persists task and returns its token (the task ID). Scheduling an
// ID that is already pending returns the existing token without changes.
func (q *Queue) Schedule(ctx context.Context, task Task) (string, error) {
	if task.ID == "" || task.Kind == "" {
		return "", fmt.Errorf("task id and kind are required")
	}
	if task.DueAt.IsZero() {
		task.DueAt = q.now()
	}

	created := false
	err := q.store.Update(ctx, func(txn *store.Txn) error {
		created = false
		exists, err := txn.Exists(store.TaskIDKey(task.ID))
		if err != nil || exists {
			return err
		}
		task.CreatedAt = q.now()
		if err := txn.Set(store.TaskIDKey(task.ID), &task); err != nil {
			return err
		}
		created = true
		return txn.Set(store.TaskDueKey(task.DueAt, task.ID), task.ID)
	})
	if err != nil {
		return "", fmt.Errorf("schedule task %s: %w", task.ID, err)
	}

	if created {
		metrics.TasksScheduled.WithLabelValues(task.Kind).Inc()
		q.logger.Debug().
			Str("task_id", task.ID).
			Str("kind", task.Kind).
			Time("due_at", task.DueAt).
			Msg("Task scheduled")
	}
	return task.ID, nil
}

// Cancel removes a pending task. Unknown tokens are ignored.
func (q *Queue) Cancel(ctx context.Context, token string) error {
	err := q.store.Update(ctx, func(txn *store.Txn) error {
		var task Task
		err := txn.Get(store.TaskIDKey(token), &task)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(store.TaskDueKey(task.DueAt, task.ID)); err != nil {
			return err
		}
		return txn.Delete(store.TaskIDKey(token))
	})
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", token, err)
	}
	return nil
}

// Get returns a pending task. Returns store.ErrNotFound when it is unknown.
func (q *Queue) Get(ctx context.Context, token string) (*Task, error) {
	var task Task
	err := q.store.View(ctx, func(txn *store.Txn) error {
		return txn.Get(store.TaskIDKey(token), &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Pending returns the number of tasks in the due index.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	return q.store.CountPrefix(ctx, store.PrefixTaskDue)
}

// due returns up to BatchSize due index entries at or before now.
func (q *Queue) due(ctx context.Context, now time.Time) ([]dueEntry, error) {
	limit := store.TimeSegment(now)
	var out []dueEntry
	err := q.store.View(ctx, func(txn *store.Txn) error {
		return txn.ScanKeys(store.PrefixTaskDue, func(key string) error {
			rest := strings.TrimPrefix(key, store.PrefixTaskDue)
			seg, id, ok := strings.Cut(rest, "/")
			if !ok {
				return nil
			}
			if seg > limit || len(out) >= q.config.BatchSize {
				return store.ErrStopScan
			}
			out = append(out, dueEntry{key: key, id: id})
			return nil
		})
	})
	return out, err
}

type dueEntry struct {
	key string
	id  string
}

// DispatchDue publishes (or runs) every task due at now and returns how many
// were dispatched.
func (q *Queue) DispatchDue(ctx context.Context) (int, error) {
	now := q.now()
	entries, err := q.due(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scan due tasks: %w", err)
	}

	dispatched := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		if err := q.dispatch(ctx, e, now); err != nil {
			q.logger.Warn().Err(err).Str("task_id", e.id).Msg("Task dispatch failed")
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (q *Queue) dispatch(ctx context.Context, e dueEntry, now time.Time) error {
	task, err := q.Get(ctx, e.id)
	if errors.Is(err, store.ErrNotFound) {
		// Cancelled between scan and dispatch; drop the stale index entry.
		return q.store.Update(ctx, func(txn *store.Txn) error {
			return txn.Delete(e.key)
		})
	}
	if err != nil {
		return err
	}

	metrics.TaskLag.Observe(now.Sub(task.DueAt).Seconds())

	if q.publisher == nil {
		err = q.Run(ctx, task)
	} else {
		err = q.publisher.PublishJSON(ctx, eventprocessor.TopicTasks, task.ID, task, map[string]string{
			eventprocessor.MetaTaskID: task.ID,
			eventprocessor.MetaKind:   task.Kind,
		})
	}
	if err != nil {
		metrics.TasksDispatched.WithLabelValues(task.Kind, "error").Inc()
		if perr := q.postpone(ctx, e, task, now); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	}

	metrics.TasksDispatched.WithLabelValues(task.Kind, "success").Inc()
	return q.store.Update(ctx, func(txn *store.Txn) error {
		return txn.Delete(e.key)
	})
}

// postpone moves a task whose dispatch failed to now + RetryDelay.
func (q *Queue) postpone(ctx context.Context, e dueEntry, task *Task, now time.Time) error {
	return q.store.Update(ctx, func(txn *store.Txn) error {
		var current Task
		if err := txn.Get(store.TaskIDKey(task.ID), &current); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return txn.Delete(e.key)
			}
			return err
		}
		if err := txn.Delete(e.key); err != nil {
			return err
		}
		current.Attempts++
		current.DueAt = now.Add(q.config.RetryDelay)
		if err := txn.Set(store.TaskIDKey(current.ID), &current); err != nil {
			return err
		}
		return txn.Set(store.TaskDueKey(current.DueAt, current.ID), current.ID)
	})
}

// Run invokes the handler for task and, on success, retires the task
// document.
func (q *Queue) Run(ctx context.Context, task *Task) error {
	q.handlersMu.RLock()
	h, ok := q.handlers[task.Kind]
	q.handlersMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind)
	}

	if err := h(ctx, task); err != nil {
		return fmt.Errorf("run task %s: %w", task.ID, err)
	}

	return q.store.Update(ctx, func(txn *store.Txn) error {
		var current Task
		err := txn.Get(store.TaskIDKey(task.ID), &current)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// A task rescheduled after this delivery keeps its document.
		if !current.DueAt.Equal(task.DueAt) {
			return nil
		}
		return txn.Delete(store.TaskIDKey(task.ID))
	})
}

// HandleMessage is the router handler for vigil.tasks.
func (q *Queue) HandleMessage(msg *message.Message) error {
	var task Task
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		// A malformed task can never succeed; ack it.
		q.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed task message")
		return nil
	}

	ctx := logging.ContextWithCorrelationID(msg.Context(), task.ID)
	err := q.Run(ctx, &task)
	if errors.Is(err, ErrUnknownKind) {
		q.logger.Error().Str("task_id", task.ID).Str("kind", task.Kind).Msg("Dropping task without handler")
		return nil
	}
	return err
}

// Attach registers the task consumer on router.
func (q *Queue) Attach(router *eventprocessor.Router, sub message.Subscriber) {
	router.AddConsumerHandler("taskqueue", eventprocessor.TopicTasks, sub, q.HandleMessage)
}

// Start starts the dispatcher loop.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.config.Validate(); err != nil {
		return fmt.Errorf("invalid task queue config: %w", err)
	}

	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("task dispatcher already running")
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	q.logger.Info().
		Dur("poll_interval", q.config.PollInterval).
		Int("batch_size", q.config.BatchSize).
		Bool("inline", q.publisher == nil).
		Msg("Starting task dispatcher")

	go q.run(ctx)
	return nil
}

// Stop stops the dispatcher and waits for the current poll to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	close(q.stopCh)
	<-q.doneCh

	q.mu.Lock()
	q.running = false
	q.mu.Unlock()

	q.logger.Info().Msg("Task dispatcher stopped")
}

// IsRunning reports whether the dispatcher loop is active.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.doneCh)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	q.poll(ctx)

	for {
		select {
		case <-ticker.C:
			q.poll(ctx)
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) poll(ctx context.Context) {
	n, err := q.DispatchDue(ctx)
	if err != nil && ctx.Err() == nil {
		q.logger.Error().Err(err).Msg("Task dispatch poll failed")
		return
	}
	if n > 0 {
		q.logger.Debug().Int("dispatched", n).Msg("Dispatched due tasks")
	}
}
