// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediacrypt is the media-encryption collaborator: it turns a
// [keying.CertPair] into SRTP/SRTCP protect and unprotect operations
// for one established session.
//
// [New] selects the local and remote master keys from the pair by the
// consumer's handshake role, copies them out (the caller wipes the
// pair afterwards), and builds one pion/srtp context per direction.
// Packets are parsed and serialized with pion/rtp.
package mediacrypt
