// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package packetqueue provides the unbounded FIFO between handshake
// sessions (producers) and the transport's sender loop (consumer).
//
// [Queue] supports blocking and timed dequeues. [Queue.Put] into an
// empty queue wakes every blocked consumer at once; [Queue.Close]
// wakes them with [ErrClosed] after any queued items drain.
// [ErrTimeout] from [Queue.DequeueTimeout] distinguishes "nothing
// arrived" from delivery, and a non-positive timeout polls.
//
// Dequeued list nodes are recycled through a pool bounded by two
// watermarks derived from the live queue length and the configured
// [Config.CacheSlack]; see [Queue] for the formulas. The pool only
// affects allocation behavior, never ordering or visible length.
//
// Timed waits draw time from an injected [clock.Clock], so tests drive
// them with the fake clock.
package packetqueue
