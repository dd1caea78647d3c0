// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

var (
	// ErrWrongState reports an operation invalid for the session's
	// current role, for example driving the handshake from RolePass.
	// Recoverable: the caller retries later or reorders calls.
	ErrWrongState = errors.New("session: operation invalid in current role")

	// ErrNotReady reports a request for something that only exists
	// after establishment, such as key material. Normal control
	// flow, never logged; poll again after the next handshake
	// progress.
	ErrNotReady = errors.New("session: handshake not established")

	// ErrProtocol reports a fatal failure inside the handshake
	// engine: bad record, failed verification, fatal alert. The
	// session is unusable; discard it and renegotiate from scratch.
	ErrProtocol = errors.New("session: protocol failure")

	// ErrSessionClosed reports an operation on a session whose
	// engine handle is gone, either closed deliberately or killed by
	// a protocol failure.
	ErrSessionClosed = errors.New("session: closed")
)
