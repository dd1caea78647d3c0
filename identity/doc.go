// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity owns the local endpoint's X.509 certificate and
// private key, the identity presented during the DTLS handshake.
//
// [Generate] produces a self-signed certificate suitable for
// fingerprint-pinned peer authentication; [Load] accepts PEM pairs
// issued elsewhere. [Certificate.Fingerprint] renders the SHA-256
// digest of the DER encoding in the colon-separated uppercase hex form
// exchanged over signaling, and [FingerprintOf] applies the same
// rendering to a peer's DER blob for verification.
package identity
