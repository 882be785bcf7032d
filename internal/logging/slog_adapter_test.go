// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSlogHandler_Levels(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, `"level":"debug"`},
		{slog.LevelInfo, `"level":"info"`},
		{slog.LevelWarn, `"level":"warn"`},
		{slog.LevelError, `"level":"error"`},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(NewSlogHandlerWithLogger(zerolog.New(&buf).Level(zerolog.TraceLevel)))
		prev := zerolog.GlobalLevel()
		zerolog.SetGlobalLevel(zerolog.TraceLevel)

		logger.Log(context.Background(), tt.level, "service event")

		zerolog.SetGlobalLevel(prev)
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("level %v: output %s missing %s", tt.level, buf.String(), tt.want)
		}
	}
}

func TestSlogHandler_Enabled(t *testing.T) {
	h := NewSlogHandlerWithLogger(zerolog.New(nil).Level(zerolog.WarnLevel))
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled on a warn logger")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled on a warn logger")
	}
}

func TestSlogHandler_Attrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(zerolog.New(&buf)))

	logger.WithGroup("svc").
		With("supervisor", "vigil").
		Info("service restarted",
			"name", "event-router",
			"restarts", 3,
			"backoff", 15*time.Second,
			"failing", true,
			"err", errors.New("nats down"),
			slog.Group("layer", "id", "messaging-layer"),
		)

	out := buf.String()
	for _, want := range []string{
		`"svc.supervisor":"vigil"`,
		`"svc.name":"event-router"`,
		`"svc.restarts":3`,
		`"svc.failing":true`,
		`"svc.err":"nats down"`,
		`"svc.layer.id":"messaging-layer"`,
		`"message":"service restarted"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}

func TestSlogHandler_CorrelationFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(zerolog.New(&buf)))
	ctx := ContextWithCorrelationID(context.Background(), "sig-42")

	logger.InfoContext(ctx, "handled")

	if !strings.Contains(buf.String(), `"correlation_id":"sig-42"`) {
		t.Errorf("correlation id missing: %s", buf.String())
	}
}

func TestSlogHandler_EmptyGroup(t *testing.T) {
	h := NewSlogHandler()
	if h.WithGroup("") != h {
		t.Error("empty group should return the same handler")
	}
}

func TestNewSlogLogger(t *testing.T) {
	if NewSlogLogger() == nil || NewSlogLoggerWithLevel("debug") == nil {
		t.Fatal("nil slog logger")
	}
}
