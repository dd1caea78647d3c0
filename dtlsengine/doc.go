// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dtlsengine adapts pion/dtls to the synchronous, socket-free
// boundary the session layer expects.
//
// The embedded engine wants a net.Conn it can read and write on its
// own schedule; the session layer wants three one-shot operations:
// deposit a datagram, drain pending output, ask about completion.
// [Engine] bridges the two by running the DTLS endpoint over an
// in-memory datagram pipe: the engine's writes accumulate in a
// pending-output buffer drained by [Engine.DrainOutput], its reads
// are fed by [Engine.Ingest], and handshake completion is observed
// through [Engine.HandshakeDone] rather than by blocking the caller.
//
// The pipe implements the full net.Conn deadline contract because the
// engine interrupts parked reads by setting a deadline in the past.
package dtlsengine
