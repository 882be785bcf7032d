// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// ErrUnknownDetector is returned when configuring a detector that is not registered.
var ErrUnknownDetector = errors.New("unknown detector")

// Submitter raises alerts produced by detectors. It is implemented by the
// alerts orchestrator.
type Submitter interface {
	SubmitAlert(ctx context.Context, payload *models.AlertPayload) (string, error)
}

// Detection is one alert raised while processing a signal.
type Detection struct {
	Detector Name             `json:"detector"`
	AlertID  string           `json:"alert_id"`
	Type     models.AlertType `json:"type"`
	Severity models.Severity  `json:"severity"`
}

// Outcome summarizes the processing of one signal.
type Outcome struct {
	SignalID   string      `json:"signal_id"`
	Kind       SignalKind  `json:"kind"`
	Evaluated  int         `json:"evaluated"`
	Detections []Detection `json:"detections"`
	Failed     []Name      `json:"failed,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`
}

// DetectorStatus describes a registered detector.
type DetectorStatus struct {
	Name    Name         `json:"name"`
	Kinds   []SignalKind `json:"kinds"`
	Enabled bool         `json:"enabled"`
}

// Engine dispatches signals to the detectors registered for their kind.
type Engine struct {
	submitter Submitter
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	enabled   bool
	detectors map[Name]Detector
	byKind    map[SignalKind][]Detector
	disabled  map[Name]bool
}

// NewEngine creates an engine with the given detectors.
func NewEngine(submitter Submitter, detectors ...Detector) *Engine {
	e := &Engine{
		submitter: submitter,
		logger:    logging.WithComponent("detection"),
		now:       time.Now,
		enabled:   true,
		detectors: make(map[Name]Detector),
		byKind:    make(map[SignalKind][]Detector),
		disabled:  make(map[Name]bool),
	}
	for _, d := range detectors {
		e.RegisterDetector(d)
	}
	return e
}

// WithClock replaces the clock used for signals without a timestamp.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RegisterDetector adds a detector. Registering a name twice replaces it.
func (e *Engine) RegisterDetector(d Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.detectors[d.Name()]; ok {
		for _, k := range old.Kinds() {
			e.byKind[k] = removeDetector(e.byKind[k], old.Name())
		}
	}
	e.detectors[d.Name()] = d
	for _, k := range d.Kinds() {
		e.byKind[k] = append(e.byKind[k], d)
	}
	e.logger.Debug().Str("detector", string(d.Name())).Msg("Registered detector")
}

func removeDetector(list []Detector, name Name) []Detector {
	out := list[:0]
	for _, d := range list {
		if d.Name() != name {
			out = append(out, d)
		}
	}
	return out
}

// SetEnabled enables or disables the whole engine.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled reports whether the engine processes signals.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// SetDetectorEnabled enables or disables one detector.
func (e *Engine) SetDetectorEnabled(name Name, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.detectors[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDetector, name)
	}
	if enabled {
		delete(e.disabled, name)
	} else {
		e.disabled[name] = true
	}
	return nil
}

// Detectors lists the registered detectors by name.
func (e *Engine) Detectors() []DetectorStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]DetectorStatus, 0, len(e.detectors))
	for name, d := range e.detectors {
		out = append(out, DetectorStatus{Name: name, Kinds: d.Kinds(), Enabled: !e.disabled[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) detectorsFor(kind SignalKind) ([]Detector, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.enabled {
		return nil, false
	}
	out := make([]Detector, 0, len(e.byKind[kind]))
	for _, d := range e.byKind[kind] {
		if !e.disabled[d.Name()] {
			out = append(out, d)
		}
	}
	return out, true
}

// Process evaluates sig against every enabled detector of its kind and
// submits the resulting alerts. A failing detector or submission is logged
// and reported in the returned error; the remaining detectors still run.
func (e *Engine) Process(ctx context.Context, sig *Signal) (Outcome, error) {
	if sig == nil || !sig.Kind.Valid() {
		kind := ""
		if sig != nil {
			kind = string(sig.Kind)
		}
		return Outcome{}, models.NewValidationError("kind", fmt.Sprintf("unknown signal kind %q", kind))
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = e.now()
	}
	sig.Timestamp = sig.Timestamp.UTC()

	out := Outcome{SignalID: sig.ID, Kind: sig.Kind, Detections: []Detection{}}
	detectors, ok := e.detectorsFor(sig.Kind)
	if !ok {
		out.Skipped = true
		return out, nil
	}

	var errs []error
	for _, d := range detectors {
		out.Evaluated++
		det, err := e.run(ctx, d, sig)
		if err != nil {
			out.Failed = append(out.Failed, d.Name())
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			e.logger.Error().
				Err(err).
				Str("detector", string(d.Name())).
				Str("signal_id", sig.ID).
				Msg("Detector failed")
			continue
		}
		if det != nil {
			out.Detections = append(out.Detections, *det)
		}
	}
	return out, errors.Join(errs...)
}

func (e *Engine) run(ctx context.Context, d Detector, sig *Signal) (*Detection, error) {
	start := time.Now()
	payload, err := d.Check(ctx, sig)
	metrics.RecordDetector(string(d.Name()), payload != nil, time.Since(start), err)
	if err != nil || payload == nil {
		return nil, err
	}
	if e.submitter == nil {
		return &Detection{Detector: d.Name(), Type: payload.Type, Severity: payload.Severity}, nil
	}

	id, err := e.submitter.SubmitAlert(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("submit alert: %w", err)
	}
	e.logger.Info().
		Str("detector", string(d.Name())).
		Str("alert_id", id).
		Str("type", string(payload.Type)).
		Str("severity", string(payload.Severity)).
		Msg("Detector raised alert")
	return &Detection{Detector: d.Name(), AlertID: id, Type: payload.Type, Severity: payload.Severity}, nil
}
