// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/peersec/lib/codec"
)

// Setup values carried in hello messages: the ACT/PASS/ACTPASS
// protocol's wire vocabulary, mirroring SDP setup attributes.
const (
	// SetupActPass offers a connection and leaves the handshake
	// direction to the peer.
	SetupActPass = "actpass"

	// SetupActive accepts an offered connection and announces that
	// this side will drive the handshake.
	SetupActive = "active"
)

// Hello is the one signaling message peersec needs: it announces an
// endpoint's certificate fingerprint, transport address, and setup
// role to one peer. Encoded as deterministic CBOR so identical hellos
// digest identically for duplicate suppression.
type Hello struct {
	// From and To are the opaque endpoint identifiers.
	From string `cbor:"from"`
	To   string `cbor:"to"`

	// Fingerprint is the sender's certificate fingerprint in
	// colon-hex SHA-256 form; the receiving side pins it and checks
	// the certificate actually presented during the handshake.
	Fingerprint string `cbor:"fingerprint"`

	// Setup is SetupActPass or SetupActive.
	Setup string `cbor:"setup"`

	// Addr is the sender's UDP listen address.
	Addr string `cbor:"addr"`

	// SentAt is the publication time in RFC 3339 form, so repeated
	// connection attempts digest differently.
	SentAt string `cbor:"sent_at"`
}

// Encode renders the hello as deterministic CBOR.
func (h Hello) Encode() ([]byte, error) {
	return codec.Marshal(h)
}

// DecodeHello parses a CBOR hello.
func DecodeHello(data []byte) (Hello, error) {
	var hello Hello
	if err := codec.Unmarshal(data, &hello); err != nil {
		return Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	return hello, nil
}

// Digest is the blake3 content digest of the encoded hello, the key
// the transport deduplicates repeated poll results by.
func (h Hello) Digest() ([32]byte, error) {
	encoded, err := h.Encode()
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(encoded), nil
}

// Signaler exchanges hello messages between endpoints. Production
// deployments bring their own; MemorySignaler serves tests and
// in-process demos. Implementations deliver at-least-once; the
// transport deduplicates by content digest.
type Signaler interface {
	// Publish makes hello visible to its To endpoint.
	Publish(ctx context.Context, hello Hello) error

	// Poll returns the hellos currently addressed to localID,
	// including ones returned before.
	Poll(ctx context.Context, localID string) ([]Hello, error)
}

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler. Hellos are stored encoded
// so Poll exercises the same decode path a networked implementation
// would.
type MemorySignaler struct {
	mu     sync.Mutex
	hellos map[string][][]byte // key: To endpoint ID
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{hellos: make(map[string][][]byte)}
}

func (s *MemorySignaler) Publish(_ context.Context, hello Hello) error {
	if hello.SentAt == "" {
		hello.SentAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	encoded, err := hello.Encode()
	if err != nil {
		return fmt.Errorf("encode hello: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hellos[hello.To] = append(s.hellos[hello.To], encoded)
	return nil
}

func (s *MemorySignaler) Poll(_ context.Context, localID string) ([]Hello, error) {
	s.mu.Lock()
	encoded := make([][]byte, len(s.hellos[localID]))
	copy(encoded, s.hellos[localID])
	s.mu.Unlock()

	hellos := make([]Hello, 0, len(encoded))
	for _, data := range encoded {
		hello, err := DecodeHello(data)
		if err != nil {
			return nil, err
		}
		hellos = append(hellos, hello)
	}
	return hellos, nil
}
