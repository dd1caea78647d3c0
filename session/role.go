// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

// Role is which side of a session is permitted or expected to
// initiate the handshake. The zero value is RoleActPass, the
// symmetric starting point.
//
// Transitions are monotonic and happen at most once: RoleActPass
// resolves to RoleAct on the first locally driven handshake step, or
// to RolePass on the first inbound datagram while still undecided.
// RoleAct and RolePass are final. RoleHoldConn is a pinned suspended
// role that neither drives nor accepts.
type Role uint8

const (
	// RoleActPass can take either side; the first event decides.
	RoleActPass Role = iota

	// RoleAct initiates the handshake.
	RoleAct

	// RolePass awaits the peer's handshake.
	RolePass

	// RoleHoldConn is suspended: every operation is a wrong-state
	// error until the session is rebuilt with a live role.
	RoleHoldConn
)

func (r Role) String() string {
	switch r {
	case RoleActPass:
		return "actpass"
	case RoleAct:
		return "act"
	case RolePass:
		return "pass"
	case RoleHoldConn:
		return "holdconn"
	default:
		return "unknown"
	}
}

// Kind is the connection lifecycle stage, independent of Role. It
// flips from KindNew to KindEstablished exactly once, the moment the
// engine reports handshake completion, and never reverts.
type Kind uint8

const (
	// KindNew is the pre-completion stage.
	KindNew Kind = iota

	// KindEstablished means the handshake completed and key export
	// is valid.
	KindEstablished
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindEstablished:
		return "established"
	default:
		return "unknown"
	}
}
