// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

// certificateSubject is the organization and common name on generated
// self-signed certificates. Peers authenticate by fingerprint, not by
// name, so the value only matters for diagnostics.
const certificateSubject = "peersec"

// certificateValidity is how far the generated certificate's validity
// window extends on each side of the generation time.
const certificateValidity = 365 * 24 * time.Hour

// serialBits is the size of randomly drawn serial numbers. 130 bits
// makes a collision between two generated certificates vanishingly
// unlikely, which keeps fingerprints distinct per generation.
const serialBits = 130

// Certificate is an immutable certificate and private key pair with a
// cached fingerprint. Create one per process or per peer connection
// via Generate or Load; it outlives every session built from it.
type Certificate struct {
	leaf        *x509.Certificate
	tlsCert     tls.Certificate
	fingerprint string
}

// Generate creates a self-signed certificate: RSA-2048 key, validity
// one year on either side of now, subject and issuer both the fixed
// peersec name, serial drawn fresh from crypto/rand.
func Generate() (*Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), serialBits))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{certificateSubject},
			CommonName:   certificateSubject,
		},
		NotBefore:             now.Add(-certificateValidity),
		NotAfter:              now.Add(certificateValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("sign certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse generated certificate: %w", err)
	}

	return &Certificate{
		leaf: leaf,
		tlsCert: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		fingerprint: FingerprintOf(der),
	}, nil
}

// Load parses a PEM-encoded certificate and private key pair. The key
// must match the certificate; mismatched or malformed input fails with
// a wrapped error and no Certificate is created. Inputs are never
// mutated.
func Load(certPEM, keyPEM []byte) (*Certificate, error) {
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse certificate/key pair: %w", err)
	}

	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	tlsCert.Leaf = leaf

	return &Certificate{
		leaf:        leaf,
		tlsCert:     tlsCert,
		fingerprint: FingerprintOf(leaf.Raw),
	}, nil
}

// LoadFiles reads and parses a PEM certificate and key from disk.
func LoadFiles(certPath, keyPath string) (*Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %w", certPath, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", keyPath, err)
	}
	return Load(certPEM, keyPEM)
}

// Fingerprint returns the SHA-256 digest of the DER-encoded
// certificate as uppercase hex octets joined by colons, for example
// "3B:F2:...:A0". The value is computed once at construction.
func (c *Certificate) Fingerprint() string {
	return c.fingerprint
}

// TLSCertificate returns the certificate in the form the DTLS engine
// config consumes.
func (c *Certificate) TLSCertificate() tls.Certificate {
	return c.tlsCert
}

// Leaf returns the parsed certificate.
func (c *Certificate) Leaf() *x509.Certificate {
	return c.leaf
}

// PEM returns the certificate encoded as a PEM block, for writing out
// or feeding back through Load.
func (c *Certificate) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.leaf.Raw})
}

// FingerprintOf renders the SHA-256 fingerprint of an arbitrary
// DER-encoded certificate. Used to check a peer's presented
// certificate against the fingerprint it announced over signaling.
func FingerprintOf(der []byte) string {
	digest := sha256.Sum256(der)

	// Three bytes per octet ("XX:"), minus the trailing separator.
	out := make([]byte, 0, len(digest)*3-1)
	const hexUpper = "0123456789ABCDEF"
	for i, b := range digest {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexUpper[b>>4], hexUpper[b&0x0f])
	}
	return string(out)
}
