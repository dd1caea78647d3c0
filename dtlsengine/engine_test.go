// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dtlsengine

import (
	"bytes"
	"testing"
	"time"

	"github.com/bureau-foundation/peersec/identity"
	"github.com/bureau-foundation/peersec/keying"
	"github.com/bureau-foundation/peersec/lib/testutil"
)

// newTestEngine builds an engine with a fresh self-signed identity.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cert, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate certificate: %v", err)
	}
	engine := New(Config{Certificate: cert.TLSCertificate()})
	t.Cleanup(func() { engine.Close() })
	return engine
}

// pump shuttles datagrams between two engines until both report a
// completed handshake or the deadline passes. It is a lossless
// in-process wire: every drained flush becomes exactly one ingested
// datagram on the other side.
func pump(t *testing.T, a, b *Engine, deadline time.Duration) {
	t.Helper()
	expire := time.After(deadline)
	for !a.Ready() || !b.Ready() {
		if err := a.Err(); err != nil {
			t.Fatalf("engine A failed: %v", err)
		}
		if err := b.Err(); err != nil {
			t.Fatalf("engine B failed: %v", err)
		}

		moved := false
		if out := a.DrainOutput(); len(out) > 0 {
			if _, err := b.Ingest(out); err != nil {
				t.Fatalf("B ingest: %v", err)
			}
			moved = true
		}
		if out := b.DrainOutput(); len(out) > 0 {
			if _, err := a.Ingest(out); err != nil {
				t.Fatalf("A ingest: %v", err)
			}
			moved = true
		}
		if moved {
			continue
		}
		select {
		case <-expire:
			t.Fatalf("handshake did not complete: A ready=%v B ready=%v", a.Ready(), b.Ready())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestHandshakeCompletes runs a full client/server handshake over the
// in-memory pipes and checks both ends observe completion.
func TestHandshakeCompletes(t *testing.T) {
	client := newTestEngine(t)
	server := newTestEngine(t)

	if err := server.Start(false); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	if err := client.Start(true); err != nil {
		t.Fatalf("client Start: %v", err)
	}

	pump(t, client, server, 15*time.Second)

	testutil.RequireClosed(t, client.HandshakeDone(), time.Second, "client done")
	testutil.RequireClosed(t, server.HandshakeDone(), time.Second, "server done")

	if certs := client.PeerCertificates(); len(certs) == 0 {
		t.Error("client has no peer certificate after handshake")
	}
	if certs := server.PeerCertificates(); len(certs) == 0 {
		t.Error("server has no peer certificate after handshake")
	}
}

// TestKeyingMaterialAgreement verifies both ends export identical
// keying material and negotiated the first offered SRTP profile.
func TestKeyingMaterialAgreement(t *testing.T) {
	client := newTestEngine(t)
	server := newTestEngine(t)
	if err := server.Start(false); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	if err := client.Start(true); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	pump(t, client, server, 15*time.Second)

	fromClient, err := client.ExportKeyingMaterial(keying.ExporterLabel, nil, keying.ExportLen)
	if err != nil {
		t.Fatalf("client export: %v", err)
	}
	fromServer, err := server.ExportKeyingMaterial(keying.ExporterLabel, nil, keying.ExportLen)
	if err != nil {
		t.Fatalf("server export: %v", err)
	}
	if !bytes.Equal(fromClient, fromServer) {
		t.Error("exported keying material differs between ends")
	}

	profile, err := client.ProtectionProfileID()
	if err != nil {
		t.Fatalf("client profile: %v", err)
	}
	if profile != keying.ProfileAes128CmSha1_80 {
		t.Errorf("negotiated profile = 0x%04x, want 0x%04x", profile, keying.ProfileAes128CmSha1_80)
	}
}

// TestApplicationDataRoundTrip sends encrypted application data both
// directions after the handshake.
func TestApplicationDataRoundTrip(t *testing.T) {
	client := newTestEngine(t)
	server := newTestEngine(t)
	if err := server.Start(false); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	if err := client.Start(true); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	pump(t, client, server, 15*time.Second)

	payload := []byte("application payload")
	if _, err := client.WriteApplicationData(payload); err != nil {
		t.Fatalf("client write: %v", err)
	}
	out := client.DrainOutput()
	if len(out) == 0 {
		t.Fatal("no output after WriteApplicationData")
	}
	received, err := server.Ingest(out)
	if err != nil {
		t.Fatalf("server ingest: %v", err)
	}
	if !bytes.Equal(received, payload) {
		t.Errorf("server received %q, want %q", received, payload)
	}

	// A single byte survives the trip too.
	if _, err := server.WriteApplicationData([]byte{0x7f}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	received, err = client.Ingest(server.DrainOutput())
	if err != nil {
		t.Fatalf("client ingest: %v", err)
	}
	if !bytes.Equal(received, []byte{0x7f}) {
		t.Errorf("client received % x, want 7f", received)
	}
}

// TestIngestBeforeStart verifies the engine refuses traffic before a
// role is chosen.
func TestIngestBeforeStart(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.Ingest([]byte{22, 0, 0}); err != ErrNotStarted {
		t.Errorf("Ingest before Start = %v, want ErrNotStarted", err)
	}
}

// TestIngestEmptyDatagram verifies a zero-length datagram is a
// complete no-op.
func TestIngestEmptyDatagram(t *testing.T) {
	engine := newTestEngine(t)
	data, err := engine.Ingest(nil)
	if err != nil || data != nil {
		t.Errorf("Ingest(nil) = %v, %v, want nil, nil", data, err)
	}
}

// TestConnStateBeforeEstablishment verifies the connection-state
// accessors refuse cleanly while no handshake has completed.
func TestConnStateBeforeEstablishment(t *testing.T) {
	engine := newTestEngine(t)
	if certs := engine.PeerCertificates(); certs != nil {
		t.Errorf("PeerCertificates before establishment = %v, want nil", certs)
	}
	if _, err := engine.ExportKeyingMaterial(keying.ExporterLabel, nil, keying.ExportLen); err != ErrNotEstablished {
		t.Errorf("ExportKeyingMaterial before establishment = %v, want ErrNotEstablished", err)
	}
	if _, err := engine.ProtectionProfileID(); err != ErrNotEstablished {
		t.Errorf("ProtectionProfileID before establishment = %v, want ErrNotEstablished", err)
	}
}

// TestStartTwice verifies the second Start fails.
func TestStartTwice(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.Start(false); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := engine.Start(false); err == nil {
		t.Error("second Start succeeded")
	}
}

// TestCloseFailsInFlightHandshake verifies Close unblocks and fails a
// pending handshake attempt.
func TestCloseFailsInFlightHandshake(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.Start(true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, engine.HandshakeDone(), 5*time.Second, "attempt resolution after close")
	if engine.Ready() {
		t.Error("engine reports ready after close killed the handshake")
	}
}
