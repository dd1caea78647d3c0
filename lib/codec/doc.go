// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes CBOR encoding configuration.
//
// [Marshal] uses Core Deterministic Encoding so that equal hello
// messages produce byte-identical payloads; the transport relies on
// this when it deduplicates hellos by content digest. [Unmarshal]
// accepts standard CBOR and ignores unknown fields. [Diagnose] renders
// payloads in diagnostic notation for debug logs.
//
// Consumers import this package instead of fxamacker/cbor directly so
// the encoding options live in exactly one place.
package codec
