// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pionlog adapts log/slog to pion's logging.LoggerFactory so
// the embedded DTLS engine logs through the same handler as the rest
// of the process. Pion's trace level has no slog equivalent and maps
// to [LevelTrace], below slog.LevelDebug; handlers configured at debug
// level suppress it.
package pionlog
