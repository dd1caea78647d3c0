// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"testing"
)

func testHello(from, to string) Hello {
	return Hello{
		From:        from,
		To:          to,
		Fingerprint: "AA:BB:CC",
		Setup:       SetupActPass,
		Addr:        "127.0.0.1:5000",
		SentAt:      "2026-08-31T12:00:00Z",
	}
}

// TestHelloRoundTrip encodes and decodes a hello.
func TestHelloRoundTrip(t *testing.T) {
	original := testHello("machine/a", "machine/b")
	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeHello(encoded)
	if err != nil {
		t.Fatalf("DecodeHello: %v", err)
	}
	if decoded != original {
		t.Errorf("decoded = %+v, want %+v", decoded, original)
	}
}

// TestHelloDigestDeterministic verifies identical hellos digest
// identically and distinct ones do not, the property duplicate
// suppression rests on.
func TestHelloDigestDeterministic(t *testing.T) {
	a := testHello("machine/a", "machine/b")
	b := testHello("machine/a", "machine/b")

	da, err := a.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	db, err := b.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if da != db {
		t.Error("identical hellos produced different digests")
	}

	b.SentAt = "2026-08-31T12:00:01Z"
	db, err = b.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if da == db {
		t.Error("distinct hellos produced the same digest")
	}
}

// TestMemorySignalerDelivery verifies publish/poll routing by To
// endpoint and that repeated polls keep returning earlier hellos.
func TestMemorySignalerDelivery(t *testing.T) {
	ctx := context.Background()
	signaler := NewMemorySignaler()

	if err := signaler.Publish(ctx, testHello("machine/a", "machine/b")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := signaler.Publish(ctx, testHello("machine/c", "machine/b")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	hellos, err := signaler.Poll(ctx, "machine/b")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(hellos) != 2 {
		t.Fatalf("len(hellos) = %d, want 2", len(hellos))
	}
	if hellos[0].From != "machine/a" || hellos[1].From != "machine/c" {
		t.Errorf("senders = %s, %s", hellos[0].From, hellos[1].From)
	}

	// At-least-once: a second poll returns the same hellos.
	again, err := signaler.Poll(ctx, "machine/b")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(again) != 2 {
		t.Errorf("second poll len = %d, want 2", len(again))
	}

	// Nothing addressed to the sender.
	none, err := signaler.Poll(ctx, "machine/a")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("poll for machine/a returned %d hellos, want 0", len(none))
	}
}

// TestMemorySignalerStampsSentAt verifies Publish fills SentAt when
// the caller leaves it empty.
func TestMemorySignalerStampsSentAt(t *testing.T) {
	ctx := context.Background()
	signaler := NewMemorySignaler()
	hello := testHello("machine/a", "machine/b")
	hello.SentAt = ""
	if err := signaler.Publish(ctx, hello); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	hellos, err := signaler.Poll(ctx, "machine/b")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(hellos) != 1 || hellos[0].SentAt == "" {
		t.Error("Publish did not stamp SentAt")
	}
}
