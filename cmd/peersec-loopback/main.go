// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// peersec-loopback stands up two peersec endpoints in one process,
// connects them over real UDP sockets through an in-memory signaler,
// and exchanges one application datagram and one RTP packet in each
// direction. It is a smoke test for the full stack: certificate
// generation, hello signaling, lazy role resolution, the DTLS
// handshake, fingerprint pinning, and SRTP protection.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pion/rtp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/peersec/identity"
	"github.com/bureau-foundation/peersec/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var addrA string
	var addrB string
	var configPath string
	var timeout time.Duration
	var debug bool

	flagSet := pflag.NewFlagSet("peersec-loopback", pflag.ContinueOnError)
	flagSet.StringVar(&addrA, "addr-a", "127.0.0.1:0", "UDP listen address for endpoint A")
	flagSet.StringVar(&addrB, "addr-b", "127.0.0.1:0", "UDP listen address for endpoint B")
	flagSet.StringVar(&configPath, "config", "", "optional YAML config applied to both endpoints")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the exchange")
	flagSet.BoolVar(&debug, "debug", false, "log at debug level")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var base transport.Config
	if configPath != "" {
		loaded, err := transport.LoadConfig(configPath)
		if err != nil {
			return err
		}
		base = loaded
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	signaler := transport.NewMemorySignaler()
	alpha, alphaData, alphaMedia, err := startEndpoint(base, "machine/alpha", addrA, signaler, logger)
	if err != nil {
		return err
	}
	defer alpha.Close()
	beta, betaData, betaMedia, err := startEndpoint(base, "machine/beta", addrB, signaler, logger)
	if err != nil {
		return err
	}
	defer beta.Close()

	logger.Info("endpoints listening", "alpha", alpha.Addr(), "beta", beta.Addr())

	if err := alpha.Connect(ctx, "machine/beta"); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := alpha.WaitEstablished(ctx, "machine/beta"); err != nil {
		return fmt.Errorf("alpha establishment: %w", err)
	}
	if err := beta.WaitEstablished(ctx, "machine/alpha"); err != nil {
		return fmt.Errorf("beta establishment: %w", err)
	}
	logger.Info("secure channel established both ways")

	if sess, ok := alpha.Peer("machine/beta"); ok {
		if pair, err := sess.CertPair(); err == nil {
			logger.Info("negotiated SRTP profile", "profile", pair.Profile, "role", sess.Role())
			pair.Wipe()
		}
	}

	if _, err := alpha.SendData("machine/beta", []byte("hello from alpha")); err != nil {
		return fmt.Errorf("alpha send: %w", err)
	}
	if err := awaitData(ctx, betaData, "beta"); err != nil {
		return err
	}
	if _, err := beta.SendData("machine/alpha", []byte("hello from beta")); err != nil {
		return fmt.Errorf("beta send: %w", err)
	}
	if err := awaitData(ctx, alphaData, "alpha"); err != nil {
		return err
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: 1,
			Timestamp:      960,
			SSRC:           0xC0FFEE,
		},
		Payload: []byte("one-media-frame"),
	}
	if err := alpha.SendMedia("machine/beta", packet); err != nil {
		return fmt.Errorf("alpha media: %w", err)
	}
	if err := awaitMedia(ctx, betaMedia, "beta"); err != nil {
		return err
	}
	packet.SequenceNumber = 2
	if err := beta.SendMedia("machine/alpha", packet); err != nil {
		return fmt.Errorf("beta media: %w", err)
	}
	if err := awaitMedia(ctx, alphaMedia, "alpha"); err != nil {
		return err
	}

	logger.Info("loopback exchange complete")
	return nil
}

// startEndpoint builds and serves one transport with a fresh
// certificate, reporting received traffic on the returned channels.
func startEndpoint(base transport.Config, localID, listenAddr string, signaler transport.Signaler, logger *slog.Logger) (*transport.Transport, <-chan string, <-chan *rtp.Packet, error) {
	certificate, err := identity.Generate()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s identity: %w", localID, err)
	}

	data := make(chan string, 4)
	media := make(chan *rtp.Packet, 4)

	config := base
	config.LocalID = localID
	config.ListenAddr = listenAddr
	config.Certificate = certificate
	config.Signaler = signaler
	config.Logger = logger.With("endpoint", localID)
	config.SignalingPollInterval = 50 * time.Millisecond
	config.OnData = func(remoteID string, payload []byte) {
		logger.Info("data received", "endpoint", localID, "from", remoteID, "payload", string(payload))
		data <- string(payload)
	}
	config.OnMediaPacket = func(remoteID string, packet *rtp.Packet) {
		logger.Info("media received", "endpoint", localID, "from", remoteID,
			"sequence", packet.SequenceNumber, "bytes", len(packet.Payload))
		media <- packet
	}

	endpoint, err := transport.New(config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s transport: %w", localID, err)
	}
	go endpoint.Serve(context.Background())
	<-endpoint.Ready()
	return endpoint, data, media, nil
}

func awaitData(ctx context.Context, data <-chan string, side string) error {
	select {
	case <-data:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s never received data: %w", side, ctx.Err())
	}
}

func awaitMedia(ctx context.Context, media <-chan *rtp.Packet, side string) error {
	select {
	case <-media:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s never received media: %w", side, ctx.Err())
	}
}
