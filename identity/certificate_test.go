// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"regexp"
	"strings"
	"testing"
)

// fingerprintPattern matches the colon-joined uppercase hex rendering
// of a SHA-256 digest: 32 octets, no trailing separator.
var fingerprintPattern = regexp.MustCompile(`^([0-9A-F]{2}:){31}[0-9A-F]{2}$`)

// TestGenerateFingerprintFormat verifies the fingerprint rendering of
// a generated certificate.
func TestGenerateFingerprintFormat(t *testing.T) {
	cert, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fp := cert.Fingerprint()
	if !fingerprintPattern.MatchString(fp) {
		t.Errorf("fingerprint %q does not match XX:XX:... format", fp)
	}
	if strings.ToUpper(fp) != fp {
		t.Errorf("fingerprint %q is not uppercase", fp)
	}
}

// TestFingerprintDeterministic verifies that the same certificate
// always yields the same fingerprint, through both the cached accessor
// and the raw DER path.
func TestFingerprintDeterministic(t *testing.T) {
	cert, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if cert.Fingerprint() != cert.Fingerprint() {
		t.Error("Fingerprint not stable across calls")
	}
	if got := FingerprintOf(cert.Leaf().Raw); got != cert.Fingerprint() {
		t.Errorf("FingerprintOf(DER) = %q, want %q", got, cert.Fingerprint())
	}
}

// TestFingerprintDistinct verifies that two independently generated
// certificates fingerprint differently.
func TestFingerprintDistinct(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Errorf("two generated certificates share fingerprint %q", a.Fingerprint())
	}
	if a.Leaf().SerialNumber.Cmp(b.Leaf().SerialNumber) == 0 {
		t.Errorf("two generated certificates share serial %v", a.Leaf().SerialNumber)
	}
}

// TestGenerateProperties verifies the fixed fields of a generated
// certificate: RSA-2048, self-signed, one-year validity on each side.
func TestGenerateProperties(t *testing.T) {
	cert, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	leaf := cert.Leaf()

	key, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("public key is %T, want *rsa.PublicKey", leaf.PublicKey)
	}
	if key.N.BitLen() != 2048 {
		t.Errorf("RSA modulus is %d bits, want 2048", key.N.BitLen())
	}
	if key.E != 65537 {
		t.Errorf("RSA public exponent = %d, want 65537", key.E)
	}
	if leaf.Subject.CommonName != certificateSubject {
		t.Errorf("subject CN = %q, want %q", leaf.Subject.CommonName, certificateSubject)
	}
	if leaf.Issuer.CommonName != leaf.Subject.CommonName {
		t.Errorf("issuer %q differs from subject %q on a self-signed certificate",
			leaf.Issuer.CommonName, leaf.Subject.CommonName)
	}
	window := leaf.NotAfter.Sub(leaf.NotBefore)
	if window != 2*certificateValidity {
		t.Errorf("validity window = %v, want %v", window, 2*certificateValidity)
	}
}

// TestLoadRoundTrip generates a certificate, PEM-encodes it together
// with its key, and loads it back.
func TestLoadRoundTrip(t *testing.T) {
	original, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(original.TLSCertificate().PrivateKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	loaded, err := Load(original.PEM(), keyPEM)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Fingerprint() != original.Fingerprint() {
		t.Errorf("loaded fingerprint = %q, want %q", loaded.Fingerprint(), original.Fingerprint())
	}
}

// TestLoadRejectsMismatchedKey verifies that a key belonging to a
// different certificate is rejected at load time.
func TestLoadRejectsMismatchedKey(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(b.TLSCertificate().PrivateKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if _, err := Load(a.PEM(), keyPEM); err == nil {
		t.Error("Load accepted a key that does not match the certificate")
	}
}

// TestLoadRejectsGarbage verifies malformed PEM input fails cleanly.
func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load([]byte("not a certificate"), []byte("not a key")); err == nil {
		t.Error("Load accepted malformed input")
	}
}
