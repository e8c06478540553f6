// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package log holds the global structured logger of the symbolizer. The
// printf style helpers check the level before formatting so that disabled
// debug messages cost nothing on hot symbolization paths.
package log // import "go.opentelemetry.io/ebpf-symbolizer/internal/log"

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// level is shared by every handler created by this package, so SetLevel
// also affects loggers installed earlier through SetDebugLogger.
var level = new(slog.LevelVar)

// globalLogger logs to stderr at Info level until configured otherwise.
var globalLogger = func() *atomic.Pointer[slog.Logger] {
	p := new(atomic.Pointer[slog.Logger])
	p.Store(newTextLogger(os.Stderr))
	return p
}()

func newTextLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetLogger sets the global Logger to l.
func SetLogger(l *slog.Logger) {
	globalLogger.Store(l)
}

// SetDebugLogger configures the global logger to write debug-level logs to stderr.
func SetDebugLogger() {
	level.Set(slog.LevelDebug)
	SetLogger(newTextLogger(os.Stderr))
}

// SetLevel parses one of debug, info, warn or error and applies it to the
// loggers created by this package.
func SetLevel(name string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.Set(l)
	return nil
}

func logf(l slog.Level, msg string, args ...any) {
	logger := globalLogger.Load()
	if logger.Enabled(context.Background(), l) {
		logger.Log(context.Background(), l, fmt.Sprintf(msg, args...))
	}
}

// Debugf logs detailed information about degraded symbolization paths.
func Debugf(msg string, args ...any) {
	logf(slog.LevelDebug, msg, args...)
}

// Infof logs informational messages.
func Infof(msg string, args ...any) {
	logf(slog.LevelInfo, msg, args...)
}

// Warnf logs conditions that are not errors but deserve attention.
func Warnf(msg string, args ...any) {
	logf(slog.LevelWarn, msg, args...)
}

// Errorf logs errors.
func Errorf(msg string, args ...any) {
	logf(slog.LevelError, msg, args...)
}
