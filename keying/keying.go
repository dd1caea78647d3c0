// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keying

import (
	"fmt"

	"github.com/bureau-foundation/peersec/lib/secret"
)

// ExporterLabel is the RFC 5764 keying-material exporter label for
// DTLS-SRTP.
const ExporterLabel = "EXTRACTOR-dtls_srtp"

// Master key and salt sizes for the AES-128 counter-mode SRTP
// profiles.
const (
	MasterKeyLen  = 16
	MasterSaltLen = 14

	// ExportLen is the total exported length: a key and a salt for
	// each direction.
	ExportLen = 2 * (MasterKeyLen + MasterSaltLen)
)

// SRTP protection profile code points from the IANA DTLS-SRTP
// registry, as negotiated in the use_srtp extension.
const (
	ProfileAes128CmSha1_80 uint16 = 0x0001
	ProfileAes128CmSha1_32 uint16 = 0x0002
)

// Profile string names in the registry's spelling, handed to the
// media layer.
const (
	ProfileNameAes128CmSha1_80 = "SRTP_AES128_CM_SHA1_80"
	ProfileNameAes128CmSha1_32 = "SRTP_AES128_CM_SHA1_32"
)

// ProfileName maps a negotiated protection-profile code point to its
// registry name. Unknown code points are an error: key material for
// an unmappable profile is useless to the media layer.
func ProfileName(id uint16) (string, error) {
	switch id {
	case ProfileAes128CmSha1_80:
		return ProfileNameAes128CmSha1_80, nil
	case ProfileAes128CmSha1_32:
		return ProfileNameAes128CmSha1_32, nil
	default:
		return "", fmt.Errorf("unknown SRTP protection profile 0x%04x", id)
	}
}

// Exporter is the slice of the handshake engine keying needs: the
// RFC 5705 exporter over the completed session. *dtls.State satisfies
// it, as does the engine adapter.
type Exporter interface {
	ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error)
}

// Material is one export of DTLS-SRTP keying material, laid out per
// RFC 5764 §4.2 as clientKey ‖ serverKey ‖ clientSalt ‖ serverSalt.
// The bytes live in locked memory; Close wipes and releases them.
//
// The client flag records the exporting side's resolved handshake
// role. Accessors select slots relative to it: the side that drove
// the handshake (client) reads its own material from the client
// slots, the side that accepted reads its own from the server slots.
// Both ends therefore agree on which half is whose without exchanging
// anything further.
type Material struct {
	buf    *secret.Buffer
	client bool
}

// Export draws ExportLen bytes from the exporter under the DTLS-SRTP
// label. client is the exporting side's resolved role. The raw export
// is moved into locked memory and the intermediate heap copy wiped.
func Export(e Exporter, client bool) (*Material, error) {
	raw, err := e.ExportKeyingMaterial(ExporterLabel, nil, ExportLen)
	if err != nil {
		return nil, fmt.Errorf("export keying material: %w", err)
	}
	if len(raw) != ExportLen {
		secret.Zero(raw)
		return nil, fmt.Errorf("exporter returned %d bytes, want %d", len(raw), ExportLen)
	}

	buf, err := secret.NewFromBytes(raw)
	if err != nil {
		secret.Zero(raw)
		return nil, fmt.Errorf("protect keying material: %w", err)
	}
	return &Material{buf: buf, client: client}, nil
}

// Client reports whether the exporting side resolved to the
// initiating role.
func (m *Material) Client() bool {
	return m.client
}

// slot offsets into the export layout.
const (
	clientKeyOffset  = 0
	serverKeyOffset  = MasterKeyLen
	clientSaltOffset = 2 * MasterKeyLen
	serverSaltOffset = 2*MasterKeyLen + MasterSaltLen
)

// LocalKey returns the master key this side writes with. The slice
// aliases locked memory; copy before Close.
func (m *Material) LocalKey() []byte {
	if m.client {
		return m.slice(clientKeyOffset, MasterKeyLen)
	}
	return m.slice(serverKeyOffset, MasterKeyLen)
}

// PeerKey returns the master key the remote side writes with.
func (m *Material) PeerKey() []byte {
	if m.client {
		return m.slice(serverKeyOffset, MasterKeyLen)
	}
	return m.slice(clientKeyOffset, MasterKeyLen)
}

// LocalSalt returns the master salt this side writes with.
func (m *Material) LocalSalt() []byte {
	if m.client {
		return m.slice(clientSaltOffset, MasterSaltLen)
	}
	return m.slice(serverSaltOffset, MasterSaltLen)
}

// PeerSalt returns the master salt the remote side writes with.
func (m *Material) PeerSalt() []byte {
	if m.client {
		return m.slice(serverSaltOffset, MasterSaltLen)
	}
	return m.slice(clientSaltOffset, MasterSaltLen)
}

func (m *Material) slice(offset, length int) []byte {
	return m.buf.Bytes()[offset : offset+length]
}

// Close wipes the material and releases its locked memory.
func (m *Material) Close() error {
	return m.buf.Close()
}
