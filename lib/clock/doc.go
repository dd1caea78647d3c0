// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// [Clock] is the interface production code depends on; [Real] returns
// the wall-clock implementation and [Fake] a deterministic one for
// tests. The fake advances only via [FakeClock.Advance], and
// [FakeClock.WaitForTimers] lets a test synchronize with goroutines
// that are about to block on a timer, eliminating sleep-based races.
//
// In this module the packet queue's timed dequeue, the transport's
// signaling poll loop, and the DTLS engine's bounded ingest waits all
// draw their time from a Clock.
//
// This package has no peersec-internal dependencies.
package clock
