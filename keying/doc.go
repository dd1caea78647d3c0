// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keying turns a completed DTLS handshake into SRTP session
// keys.
//
// [Export] draws 60 bytes of keying material from the handshake's
// RFC 5705 exporter under the fixed DTLS-SRTP label and holds it in
// locked memory. [Material] partitions the export into client and
// server key/salt slots per RFC 5764 §4.2 and resolves "local" versus
// "peer" by the exporting side's handshake role, which is how both
// ends agree on slot assignment without further negotiation.
// [NewCertPair] flattens a Material into the key‖salt handoff struct
// the media-encryption layer consumes.
//
// Key material is ephemeral: exported on demand, never cached, and
// wiped by whoever holds it last.
package keying
