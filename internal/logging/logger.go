// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config is the "logging" section of the service configuration.
type Config struct {
	// Level: trace, debug, info, warn, error, fatal, panic or disabled.
	Level string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`

	// Format: json or console.
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`

	// Caller adds file:line to every entry.
	Caller bool `koanf:"caller"`

	// Timestamp adds a "time" field.
	Timestamp bool `koanf:"timestamp"`

	// Output defaults to os.Stderr.
	Output io.Writer `koanf:"-"`
}

// DefaultConfig is JSON at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Timestamp: true,
		Output:    os.Stderr,
	}
}

// global is swapped whole by Init and SetLogger; readers never lock.
var global atomic.Pointer[zerolog.Logger]

//nolint:gochecknoinits // package-level helpers log before Init runs
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "message"

	cfg := DefaultConfig()
	if os.Getenv("FUZZ_MODE") == "1" {
		cfg.Level = "fatal"
	}
	Init(cfg)
}

// Init builds the global logger from cfg. It may be called again, e.g.
// after the configuration file is loaded.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	SetLogger(ctx.Logger())
}

// parseLevel accepts zerolog's names plus "warning", in any case. Anything
// else means info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return *global.Load()
}

// SetLogger replaces the global logger.
//
//nolint:gocritic // zerolog.Logger is passed by value
func SetLogger(l zerolog.Logger) {
	global.Store(&l)
}

// With starts a child logger of the global one.
//
//	log := logging.With().Str("detector", "brute_force").Logger()
func With() zerolog.Context { return global.Load().With() }

// Trace starts a trace entry on the global logger.
func Trace() *zerolog.Event { return global.Load().Trace() }

// Debug starts a debug entry on the global logger.
func Debug() *zerolog.Event { return global.Load().Debug() }

// Info starts an info entry on the global logger.
//
//	logging.Info().Str("alert_id", id).Msg("Alert created")
func Info() *zerolog.Event { return global.Load().Info() }

// Warn starts a warn entry on the global logger.
func Warn() *zerolog.Event { return global.Load().Warn() }

// Error starts an error entry on the global logger.
func Error() *zerolog.Event { return global.Load().Error() }

// Fatal starts a fatal entry; the process exits after Msg.
func Fatal() *zerolog.Event { return global.Load().Fatal() }

// Err starts an error entry carrying err, or an info entry when err is nil.
func Err(err error) *zerolog.Event { return global.Load().Err(err) }

// GetLevel returns the process-wide minimum level.
func GetLevel() zerolog.Level {
	return zerolog.GlobalLevel()
}

// SetLevelString changes the minimum level at runtime.
func SetLevelString(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

// NewTestLogger returns a JSON logger writing to w.
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
