// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the datagram collaborator around the session
// layer: it owns the UDP socket, the shared outbound queue, the peer
// registry, and the hello signaling that bootstraps connections.
//
// [Transport.Serve] runs three loops. The receive loop demultiplexes
// inbound datagrams by their first byte (RFC 5764 §5.1.2): DTLS
// records go to the owning session's Ingest, SRTP packets to the
// established media context, STUN is ignored. The sender loop drains
// the queue every producer session flushes into and writes each
// packet to the peer it is tagged for. The signaling loop polls the
// [Signaler] for hello messages and reacts per the ACT/PASS/ACTPASS
// protocol: [Transport.Connect] publishes an actpass hello and waits
// passively; the receiving side answers with an active hello and
// drives the handshake.
//
// On establishment the peer's presented certificate is checked
// against the fingerprint it announced; a mismatch tears the session
// down. The verified peer then gets a [mediacrypt.Context] built from
// the session's exported keys, and media can flow via
// [Transport.SendMedia].
package transport
