// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keying

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"testing"
)

// fakeExporter derives deterministic bytes from a seed, standing in
// for the DTLS session exporter. Both "ends" of a handshake share the
// seed and therefore export identical material, like a real session.
type fakeExporter struct {
	seed []byte
	err  error
}

func (f *fakeExporter) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	mac := hmac.New(sha256.New, f.seed)
	mac.Write([]byte(label))
	mac.Write(context)
	out := make([]byte, 0, length)
	counter := byte(0)
	for len(out) < length {
		mac.Reset()
		mac.Write([]byte(label))
		mac.Write([]byte{counter})
		out = mac.Sum(out)
		counter++
	}
	return out[:length], nil
}

// TestExportLength verifies the export is exactly the 60-byte
// two-key, two-salt layout.
func TestExportLength(t *testing.T) {
	m, err := Export(&fakeExporter{seed: []byte("session")}, true)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	defer m.Close()

	if got := len(m.LocalKey()); got != MasterKeyLen {
		t.Errorf("LocalKey length = %d, want %d", got, MasterKeyLen)
	}
	if got := len(m.LocalSalt()); got != MasterSaltLen {
		t.Errorf("LocalSalt length = %d, want %d", got, MasterSaltLen)
	}
}

// TestRolePartitionSymmetry verifies the role-relative slot selection:
// for the same exported bytes, the client's local material is the
// server's peer material and vice versa.
func TestRolePartitionSymmetry(t *testing.T) {
	seed := []byte("shared handshake secret")
	client, err := Export(&fakeExporter{seed: seed}, true)
	if err != nil {
		t.Fatalf("Export(client): %v", err)
	}
	defer client.Close()
	server, err := Export(&fakeExporter{seed: seed}, false)
	if err != nil {
		t.Fatalf("Export(server): %v", err)
	}
	defer server.Close()

	if !bytes.Equal(client.LocalKey(), server.PeerKey()) {
		t.Error("client local key != server peer key")
	}
	if !bytes.Equal(client.PeerKey(), server.LocalKey()) {
		t.Error("client peer key != server local key")
	}
	if !bytes.Equal(client.LocalSalt(), server.PeerSalt()) {
		t.Error("client local salt != server peer salt")
	}
	if !bytes.Equal(client.PeerSalt(), server.LocalSalt()) {
		t.Error("client peer salt != server local salt")
	}
	if bytes.Equal(client.LocalKey(), client.PeerKey()) {
		t.Error("local and peer keys identical, partition collapsed")
	}
}

// TestCertPairLayout verifies the key‖salt concatenation and that
// both roles build byte-identical pairs.
func TestCertPairLayout(t *testing.T) {
	seed := []byte("shared")
	client, err := Export(&fakeExporter{seed: seed}, true)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	defer client.Close()
	server, err := Export(&fakeExporter{seed: seed}, false)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	defer server.Close()

	pairA := NewCertPair(client, ProfileNameAes128CmSha1_80)
	pairB := NewCertPair(server, ProfileNameAes128CmSha1_80)

	if !bytes.Equal(pairA.ClientWriteKey, pairB.ClientWriteKey) {
		t.Error("client write keys differ across roles")
	}
	if !bytes.Equal(pairA.ServerWriteKey, pairB.ServerWriteKey) {
		t.Error("server write keys differ across roles")
	}
	if pairA.KeyLength != MasterKeyLen+MasterSaltLen {
		t.Errorf("KeyLength = %d, want %d", pairA.KeyLength, MasterKeyLen+MasterSaltLen)
	}

	// Client write key is the client key slot followed by the client
	// salt slot.
	if !bytes.Equal(pairA.ClientWriteKey[:MasterKeyLen], client.LocalKey()) {
		t.Error("ClientWriteKey key half does not match client-slot key")
	}
	if !bytes.Equal(pairA.ClientWriteKey[MasterKeyLen:], client.LocalSalt()) {
		t.Error("ClientWriteKey salt half does not match client-slot salt")
	}
}

// TestCertPairWipe verifies Wipe zeroes both blobs.
func TestCertPairWipe(t *testing.T) {
	m, err := Export(&fakeExporter{seed: []byte("x")}, true)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	defer m.Close()

	pair := NewCertPair(m, ProfileNameAes128CmSha1_32)
	pair.Wipe()
	for _, b := range pair.ClientWriteKey {
		if b != 0 {
			t.Fatal("ClientWriteKey not zeroed")
		}
	}
	for _, b := range pair.ServerWriteKey {
		if b != 0 {
			t.Fatal("ServerWriteKey not zeroed")
		}
	}
}

// TestExportPropagatesError verifies exporter failures surface
// wrapped.
func TestExportPropagatesError(t *testing.T) {
	boom := errors.New("handshake not complete")
	if _, err := Export(&fakeExporter{err: boom}, true); !errors.Is(err, boom) {
		t.Errorf("Export error = %v, want wrapped %v", err, boom)
	}
}

// TestProfileName covers both registered code points and the unknown
// case.
func TestProfileName(t *testing.T) {
	if name, err := ProfileName(ProfileAes128CmSha1_80); err != nil || name != "SRTP_AES128_CM_SHA1_80" {
		t.Errorf("ProfileName(0x0001) = %q, %v", name, err)
	}
	if name, err := ProfileName(ProfileAes128CmSha1_32); err != nil || name != "SRTP_AES128_CM_SHA1_32" {
		t.Errorf("ProfileName(0x0002) = %q, %v", name, err)
	}
	if _, err := ProfileName(0x0007); err == nil {
		t.Error("ProfileName accepted an unmapped code point")
	}
}
