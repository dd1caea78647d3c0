// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keying

import "github.com/bureau-foundation/peersec/lib/secret"

// CertPair is the key handoff to the media-encryption layer: one
// key‖salt blob per direction in client/server terms, plus the
// negotiated profile. Both ends of a session compute identical pairs;
// which half is "ours" is decided by the consumer's role, not encoded
// here.
type CertPair struct {
	// ClientWriteKey and ServerWriteKey are each MasterKeyLen key
	// bytes followed by MasterSaltLen salt bytes.
	ClientWriteKey []byte
	ServerWriteKey []byte

	// Profile is the registry name of the negotiated protection
	// profile, e.g. "SRTP_AES128_CM_SHA1_80".
	Profile string

	// KeyLength is the length of each write key blob
	// (MasterKeyLen + MasterSaltLen).
	KeyLength int
}

// NewCertPair flattens a Material into the client/server write-key
// layout. The returned slices are heap copies owned by the caller,
// who must Wipe the pair once the media layer has copied the keys
// out. The Material is untouched; the caller closes it separately.
func NewCertPair(m *Material, profile string) *CertPair {
	pair := &CertPair{
		ClientWriteKey: make([]byte, MasterKeyLen+MasterSaltLen),
		ServerWriteKey: make([]byte, MasterKeyLen+MasterSaltLen),
		Profile:        profile,
		KeyLength:      MasterKeyLen + MasterSaltLen,
	}

	raw := m.buf.Bytes()
	copy(pair.ClientWriteKey[:MasterKeyLen], raw[clientKeyOffset:])
	copy(pair.ClientWriteKey[MasterKeyLen:], raw[clientSaltOffset:clientSaltOffset+MasterSaltLen])
	copy(pair.ServerWriteKey[:MasterKeyLen], raw[serverKeyOffset:])
	copy(pair.ServerWriteKey[MasterKeyLen:], raw[serverSaltOffset:serverSaltOffset+MasterSaltLen])
	return pair
}

// Wipe zeroes both write keys. Idempotent.
func (p *CertPair) Wipe() {
	secret.Zero(p.ClientWriteKey)
	secret.Zero(p.ServerWriteKey)
}
