// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/rtp"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/peersec/identity"
	"github.com/bureau-foundation/peersec/keying"
	"github.com/bureau-foundation/peersec/lib/clock"
)

// Defaults for Config fields left zero.
const (
	// DefaultReceiveMTU sizes the receive buffer. Larger than any
	// sane path MTU so nothing truncates.
	DefaultReceiveMTU = 8192

	// DefaultDequeueTimeout is the sender loop's wait per queue poll
	// between shutdown checks.
	DefaultDequeueTimeout = 250 * time.Millisecond

	// DefaultSignalingPollInterval is how often the hello intake
	// polls the signaler.
	DefaultSignalingPollInterval = 500 * time.Millisecond

	// DefaultHandshakeTimeout bounds WaitEstablished.
	DefaultHandshakeTimeout = 30 * time.Second
)

// Config parameterizes a Transport. The yaml-tagged fields load from
// a config file via LoadConfig; the rest are runtime dependencies
// injected by the caller.
type Config struct {
	// LocalID is this endpoint's opaque identifier in signaling and
	// packet tagging, e.g. "machine/workstation".
	LocalID string `yaml:"local_id"`

	// ListenAddr is the UDP address to bind, e.g. "127.0.0.1:5000".
	ListenAddr string `yaml:"listen_addr"`

	// ReceiveMTU is the inbound datagram buffer size.
	ReceiveMTU int `yaml:"receive_mtu"`

	// QueueCacheSlack is the outbound queue's node-pool constant.
	QueueCacheSlack int `yaml:"queue_cache_slack"`

	// DequeueTimeout is the sender loop's per-poll wait.
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`

	// SignalingPollInterval is the hello intake poll period.
	SignalingPollInterval time.Duration `yaml:"signaling_poll_interval"`

	// HandshakeTimeout bounds how long WaitEstablished waits for a
	// peer to complete.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// SRTPProfiles are the protection profiles offered in every
	// handshake, in preference order, by registry name
	// ("SRTP_AES128_CM_SHA1_80"). Empty offers both supported
	// profiles, strongest first.
	SRTPProfiles []string `yaml:"srtp_profiles"`

	// Certificate is the local identity for every session.
	Certificate *identity.Certificate `yaml:"-"`

	// Signaler exchanges hello messages with peers.
	Signaler Signaler `yaml:"-"`

	// OnData receives decrypted DTLS application data.
	OnData func(remoteID string, payload []byte) `yaml:"-"`

	// OnMediaPacket receives unprotected RTP packets.
	OnMediaPacket func(remoteID string, packet *rtp.Packet) `yaml:"-"`

	// Logger receives transport diagnostics. Nil discards.
	Logger *slog.Logger `yaml:"-"`

	// Clock drives timed waits. Nil means the real clock.
	Clock clock.Clock `yaml:"-"`
}

// UnmarshalYAML implements custom unmarshaling so durations read in
// Go syntax ("250ms", "5s") instead of nanosecond integers.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		LocalID               string   `yaml:"local_id"`
		ListenAddr            string   `yaml:"listen_addr"`
		ReceiveMTU            int      `yaml:"receive_mtu"`
		QueueCacheSlack       int      `yaml:"queue_cache_slack"`
		DequeueTimeout        string   `yaml:"dequeue_timeout"`
		SignalingPollInterval string   `yaml:"signaling_poll_interval"`
		HandshakeTimeout      string   `yaml:"handshake_timeout"`
		SRTPProfiles          []string `yaml:"srtp_profiles"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.LocalID = raw.LocalID
	c.ListenAddr = raw.ListenAddr
	c.ReceiveMTU = raw.ReceiveMTU
	c.QueueCacheSlack = raw.QueueCacheSlack
	c.SRTPProfiles = raw.SRTPProfiles

	for _, field := range []struct {
		name string
		text string
		dest *time.Duration
	}{
		{"dequeue_timeout", raw.DequeueTimeout, &c.DequeueTimeout},
		{"signaling_poll_interval", raw.SignalingPollInterval, &c.SignalingPollInterval},
		{"handshake_timeout", raw.HandshakeTimeout, &c.HandshakeTimeout},
	} {
		if field.text == "" {
			continue
		}
		parsed, err := time.ParseDuration(field.text)
		if err != nil {
			return fmt.Errorf("parse %s: %w", field.name, err)
		}
		*field.dest = parsed
	}
	return nil
}

// LoadConfig reads the yaml-tagged fields from a file. The runtime
// dependencies still have to be filled in by the caller before
// Validate.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config, nil
}

// Validate fills defaults and rejects unusable configurations.
func (c *Config) Validate() error {
	if c.LocalID == "" {
		return fmt.Errorf("transport: local_id is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("transport: listen_addr is required")
	}
	if c.Certificate == nil {
		return fmt.Errorf("transport: Certificate is required")
	}
	if c.Signaler == nil {
		return fmt.Errorf("transport: Signaler is required")
	}
	if c.ReceiveMTU < 0 {
		return fmt.Errorf("transport: receive_mtu must not be negative, got %d", c.ReceiveMTU)
	}
	if c.ReceiveMTU == 0 {
		c.ReceiveMTU = DefaultReceiveMTU
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = DefaultDequeueTimeout
	}
	if c.SignalingPollInterval <= 0 {
		c.SignalingPollInterval = DefaultSignalingPollInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if _, err := dtlsProfiles(c.SRTPProfiles); err != nil {
		return err
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return nil
}

// dtlsProfiles maps registry profile names to the engine's protection
// profile values, preserving order. Nil input means engine defaults.
func dtlsProfiles(names []string) ([]dtls.SRTPProtectionProfile, error) {
	if len(names) == 0 {
		return nil, nil
	}
	profiles := make([]dtls.SRTPProtectionProfile, 0, len(names))
	for _, name := range names {
		switch name {
		case keying.ProfileNameAes128CmSha1_80:
			profiles = append(profiles, dtls.SRTP_AES128_CM_HMAC_SHA1_80)
		case keying.ProfileNameAes128CmSha1_32:
			profiles = append(profiles, dtls.SRTP_AES128_CM_HMAC_SHA1_32)
		default:
			return nil, fmt.Errorf("transport: unknown srtp profile %q", name)
		}
	}
	return profiles, nil
}
