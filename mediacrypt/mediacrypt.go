// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediacrypt

import (
	"fmt"
	"log/slog"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"

	"github.com/bureau-foundation/peersec/keying"
)

// DefaultReplayWindow is the replay-protection window applied to the
// inbound SRTP and SRTCP contexts.
const DefaultReplayWindow = 64

// Context holds the SRTP encrypt/decrypt state for one established
// session: one pion context per direction, keyed from the session's
// cert pair.
type Context struct {
	outbound *srtp.Context
	inbound  *srtp.Context
	profile  srtp.ProtectionProfile
	logger   *slog.Logger
}

// New builds a media context from an exported cert pair. client is
// the consumer's resolved handshake role: the client writes with the
// client key slot, the server with the server slot, so both ends pair
// up without negotiating anything further. Key bytes are copied out
// of the pair before return; the caller wipes the pair.
func New(pair *keying.CertPair, client bool, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	profile, err := profileFromName(pair.Profile)
	if err != nil {
		return nil, err
	}

	local, remote := pair.ClientWriteKey, pair.ServerWriteKey
	if !client {
		local, remote = remote, local
	}
	localKey := append([]byte(nil), local[:keying.MasterKeyLen]...)
	localSalt := append([]byte(nil), local[keying.MasterKeyLen:]...)
	remoteKey := append([]byte(nil), remote[:keying.MasterKeyLen]...)
	remoteSalt := append([]byte(nil), remote[keying.MasterKeyLen:]...)

	outbound, err := srtp.CreateContext(localKey, localSalt, profile)
	if err != nil {
		return nil, fmt.Errorf("create outbound SRTP context: %w", err)
	}
	inbound, err := srtp.CreateContext(remoteKey, remoteSalt, profile,
		srtp.SRTPReplayProtection(DefaultReplayWindow),
		srtp.SRTCPReplayProtection(DefaultReplayWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("create inbound SRTP context: %w", err)
	}

	logger.Debug("media crypto ready", "profile", pair.Profile, "client", client)
	return &Context{
		outbound: outbound,
		inbound:  inbound,
		profile:  profile,
		logger:   logger,
	}, nil
}

// profileFromName maps the registry profile name from key export to
// pion's protection profile.
func profileFromName(name string) (srtp.ProtectionProfile, error) {
	switch name {
	case keying.ProfileNameAes128CmSha1_80:
		return srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case keying.ProfileNameAes128CmSha1_32:
		return srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	default:
		return 0, fmt.Errorf("unsupported SRTP profile %q", name)
	}
}

// ProtectRTP serializes and encrypts one RTP packet.
func (c *Context) ProtectRTP(packet *rtp.Packet) ([]byte, error) {
	raw, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal RTP packet: %w", err)
	}
	protected, err := c.outbound.EncryptRTP(nil, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt RTP packet: %w", err)
	}
	return protected, nil
}

// UnprotectRTP decrypts and parses one SRTP packet.
func (c *Context) UnprotectRTP(raw []byte) (*rtp.Packet, error) {
	decrypted, err := c.inbound.DecryptRTP(nil, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt SRTP packet: %w", err)
	}
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(decrypted); err != nil {
		return nil, fmt.Errorf("parse decrypted RTP packet: %w", err)
	}
	return packet, nil
}

// ProtectRTCP encrypts one serialized RTCP packet.
func (c *Context) ProtectRTCP(raw []byte) ([]byte, error) {
	protected, err := c.outbound.EncryptRTCP(nil, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt RTCP packet: %w", err)
	}
	return protected, nil
}

// UnprotectRTCP decrypts one SRTCP packet.
func (c *Context) UnprotectRTCP(raw []byte) ([]byte, error) {
	decrypted, err := c.inbound.DecryptRTCP(nil, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt SRTCP packet: %w", err)
	}
	return decrypted, nil
}
