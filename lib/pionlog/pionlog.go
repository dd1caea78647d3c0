// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pionlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace is the slog level pion trace output maps to, one step
// below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// NewFactory returns a logging.LoggerFactory that routes pion's
// internal logging through the given slog logger. Each pion scope
// (dtls, srtp, ...) becomes a "scope" attribute on the records.
func NewFactory(logger *slog.Logger) logging.LoggerFactory {
	return factory{logger: logger}
}

type factory struct {
	logger *slog.Logger
}

var _ logging.LoggerFactory = factory{}

func (f factory) NewLogger(scope string) logging.LeveledLogger {
	return leveled{logger: f.logger.With("scope", scope)}
}

type leveled struct {
	logger *slog.Logger
}

var _ logging.LeveledLogger = leveled{}

func (l leveled) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l leveled) Trace(msg string) { l.log(LevelTrace, msg) }
func (l leveled) Tracef(format string, args ...any) {
	l.log(LevelTrace, fmt.Sprintf(format, args...))
}

func (l leveled) Debug(msg string) { l.log(slog.LevelDebug, msg) }
func (l leveled) Debugf(format string, args ...any) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}

func (l leveled) Info(msg string) { l.log(slog.LevelInfo, msg) }
func (l leveled) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (l leveled) Warn(msg string) { l.log(slog.LevelWarn, msg) }
func (l leveled) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (l leveled) Error(msg string) { l.log(slog.LevelError, msg) }
func (l leveled) Errorf(format string, args ...any) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}
