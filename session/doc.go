// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the handshake state machine at the heart of
// secure-channel establishment.
//
// A [Session] wraps one embedded DTLS endpoint (the [Engine]
// boundary) and owns the protocol around it: lazy, exactly-once
// resolution of the connection role from [RoleActPass] to [RoleAct]
// (first locally driven step) or [RolePass] (first inbound datagram
// while undecided), tolerance of the transport's reordering and
// duplication, serialization of handshake-driven and data-driven
// output onto the shared outbound queue, and exactly-once detection
// of establishment with the key handoff that follows.
//
// [Session.DriveHandshake], [Session.Ingest], and [Session.Flush]
// are the three operations the transport collaborator calls; a
// background watcher forwards engine-timed output (retransmissions)
// to the queue so the transport never has to poll.
//
// Role and connection kind are independent state: [Role] records who
// initiates, [Kind] records whether the handshake has completed.
// Both move monotonically and never revert.
package session
