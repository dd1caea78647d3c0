// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/bureau-foundation/peersec/dtlsengine"
	"github.com/bureau-foundation/peersec/identity"
	"github.com/bureau-foundation/peersec/keying"
	"github.com/bureau-foundation/peersec/lib/clock"
	"github.com/bureau-foundation/peersec/lib/packetqueue"
	"github.com/bureau-foundation/peersec/mediacrypt"
	"github.com/bureau-foundation/peersec/session"
)

// ErrUnknownPeer reports an operation naming an endpoint identifier
// with no registered peer.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// ErrFingerprintMismatch reports that a peer's presented certificate
// does not match the fingerprint it announced over signaling.
var ErrFingerprintMismatch = errors.New("transport: certificate fingerprint mismatch")

// datagramClass is the RFC 5764 §5.1.2 first-byte demultiplexing
// outcome.
type datagramClass int

const (
	classUnknown datagramClass = iota
	classSTUN
	classDTLS
	classSRTP
)

// classifyDatagram buckets an inbound datagram by its first byte:
// 0..1 STUN, 20..63 DTLS, 128..191 SRTP/SRTCP.
func classifyDatagram(firstByte byte) datagramClass {
	switch {
	case firstByte <= 1:
		return classSTUN
	case firstByte >= 20 && firstByte <= 63:
		return classDTLS
	case firstByte >= 128 && firstByte <= 191:
		return classSRTP
	default:
		return classUnknown
	}
}

// peer is one remote endpoint: its session, its resolved UDP address,
// the fingerprint it announced, and the media context built after
// establishment.
type peer struct {
	id   string
	sess *session.Session

	// addr is nil until signaling reveals where the peer listens.
	// Guarded by Transport.mu.
	addr *net.UDPAddr

	// fingerprint is the announced certificate fingerprint, pinned
	// at hello time and checked on establishment. Guarded by
	// Transport.mu.
	fingerprint string

	// media is set once the session establishes and the fingerprint
	// checks out. Guarded by Transport.mu.
	media *mediacrypt.Context

	// done closes when establishment succeeds or fails; err holds
	// the failure.
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// fail records the outcome and releases waiters. First call wins.
func (p *peer) fail(err error) {
	p.doneOnce.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *peer) succeed() {
	p.doneOnce.Do(func() { close(p.done) })
}

// Transport pumps datagrams between UDP and the session layer. It is
// the explicit context object of the stack: socket, queue, peer
// table, and signaling all live here, constructed by the caller and
// shared by nothing else.
type Transport struct {
	config Config
	logger *slog.Logger
	clk    clock.Clock
	queue  *packetqueue.Queue[session.OutboundPacket]

	mu     sync.Mutex
	conn   *net.UDPConn
	peers  map[string]*peer
	byAddr map[string]*peer
	seen   map[[32]byte]struct{}

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// New validates the config and builds an idle transport; Serve makes
// it live.
func New(config Config) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Transport{
		config: config,
		logger: config.Logger.With("local", config.LocalID),
		clk:    config.Clock,
		queue: packetqueue.New[session.OutboundPacket](packetqueue.Config{
			CacheSlack: config.QueueCacheSlack,
			Clock:      config.Clock,
		}),
		peers:  make(map[string]*peer),
		byAddr: make(map[string]*peer),
		seen:   make(map[[32]byte]struct{}),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}, nil
}

// Ready closes once Serve has bound the socket and started its loops.
func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

// Addr returns the bound UDP address, empty before Serve.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

// Serve binds the UDP socket and runs the receive, sender, and
// signaling loops until ctx is cancelled or Close is called.
func (t *Transport) Serve(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", t.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", t.config.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.config.ListenAddr, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.senderLoop()
	go t.signalingLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-t.closed:
		}
	}()

	t.readyOnce.Do(func() { close(t.ready) })
	t.logger.Info("transport serving", "addr", conn.LocalAddr())

	t.receiveLoop(conn)
	return nil
}

// receiveLoop reads datagrams and demultiplexes them until the socket
// closes.
func (t *Transport) receiveLoop(conn *net.UDPConn) {
	buffer := make([]byte, t.config.ReceiveMTU)
	for {
		n, remote, err := conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			t.logger.Error("receive failed", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		// Sessions keep datagrams past this call; hand each one an
		// owned copy.
		datagram := make([]byte, n)
		copy(datagram, buffer[:n])

		switch classifyDatagram(datagram[0]) {
		case classSTUN:
			t.logger.Debug("ignoring STUN datagram", "from", remote)
		case classDTLS:
			t.handleDTLS(remote, datagram)
		case classSRTP:
			t.handleSRTP(remote, datagram)
		default:
			t.logger.Debug("dropping unclassifiable datagram",
				"from", remote, "first_byte", datagram[0])
		}
	}
}

// handleDTLS routes a handshake or application-data record to the
// owning session. Datagrams from addresses signaling has not
// introduced are dropped; DTLS retransmission covers the race where a
// flight beats its hello.
func (t *Transport) handleDTLS(remote *net.UDPAddr, datagram []byte) {
	t.mu.Lock()
	p := t.byAddr[remote.String()]
	t.mu.Unlock()
	if p == nil {
		t.logger.Debug("DTLS datagram from unknown source", "from", remote)
		return
	}

	data, err := p.sess.Ingest(datagram)
	if err != nil {
		if errors.Is(err, session.ErrProtocol) {
			t.logger.Warn("session failed, removing peer", "peer", p.id, "error", err)
			t.removePeer(p, err)
		}
		return
	}
	if len(data) > 0 && t.config.OnData != nil {
		t.config.OnData(p.id, data)
	}
}

// handleSRTP unprotects a media packet on an established peer.
func (t *Transport) handleSRTP(remote *net.UDPAddr, datagram []byte) {
	t.mu.Lock()
	p := t.byAddr[remote.String()]
	var media *mediacrypt.Context
	if p != nil {
		media = p.media
	}
	t.mu.Unlock()
	if media == nil {
		t.logger.Debug("SRTP datagram before establishment", "from", remote)
		return
	}

	packet, err := media.UnprotectRTP(datagram)
	if err != nil {
		t.logger.Warn("SRTP unprotect failed", "peer", p.id, "error", err)
		return
	}
	if t.config.OnMediaPacket != nil {
		t.config.OnMediaPacket(p.id, packet)
	}
}

// senderLoop drains the shared outbound queue and writes each packet
// to the peer it is tagged for. This is the single consumer of every
// session's flushed output, preserving one outbound byte stream per
// session.
func (t *Transport) senderLoop() {
	for {
		packet, err := t.queue.DequeueTimeout(t.config.DequeueTimeout)
		if errors.Is(err, packetqueue.ErrTimeout) {
			select {
			case <-t.closed:
				return
			default:
				continue
			}
		}
		if err != nil {
			return // queue closed
		}

		t.mu.Lock()
		p := t.peers[packet.Remote]
		var addr *net.UDPAddr
		if p != nil {
			addr = p.addr
		}
		conn := t.conn
		t.mu.Unlock()

		if addr == nil || conn == nil {
			t.logger.Debug("dropping packet for unresolved peer", "peer", packet.Remote)
			continue
		}
		if _, err := conn.WriteToUDP(packet.Payload, addr); err != nil {
			t.logger.Warn("send failed", "peer", packet.Remote, "error", err)
		}
	}
}

// signalingLoop polls the signaler for hello messages.
func (t *Transport) signalingLoop(ctx context.Context) {
	ticker := t.clk.NewTicker(t.config.SignalingPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.intakeHellos(ctx)
		}
	}
}

// intakeHellos processes newly observed hello messages, deduplicating
// by content digest since signalers deliver at-least-once.
func (t *Transport) intakeHellos(ctx context.Context) {
	hellos, err := t.config.Signaler.Poll(ctx, t.config.LocalID)
	if err != nil {
		t.logger.Warn("signaling poll failed", "error", err)
		return
	}
	for _, hello := range hellos {
		digest, err := hello.Digest()
		if err != nil {
			t.logger.Warn("hello digest failed", "error", err)
			continue
		}
		t.mu.Lock()
		_, dup := t.seen[digest]
		if !dup {
			t.seen[digest] = struct{}{}
		}
		t.mu.Unlock()
		if dup {
			continue
		}
		t.handleHello(ctx, hello)
	}
}

// handleHello reacts to one fresh hello per the ACT/PASS/ACTPASS
// protocol: an actpass offer is answered with an active hello and a
// driven handshake; an active answer pins the peer's address and
// fingerprint while our side stays passive.
func (t *Transport) handleHello(ctx context.Context, hello Hello) {
	logger := t.logger.With("peer", hello.From, "setup", hello.Setup)

	addr, err := net.ResolveUDPAddr("udp", hello.Addr)
	if err != nil {
		logger.Warn("hello carries unresolvable address", "addr", hello.Addr, "error", err)
		return
	}

	switch hello.Setup {
	case SetupActPass:
		t.mu.Lock()
		if _, exists := t.peers[hello.From]; exists {
			t.mu.Unlock()
			logger.Debug("ignoring offer for existing peer")
			return
		}
		p, err := t.addPeerLocked(hello.From, session.RoleAct, addr, hello.Fingerprint)
		t.mu.Unlock()
		if err != nil {
			logger.Error("peer setup failed", "error", err)
			return
		}

		answer := Hello{
			From:        t.config.LocalID,
			To:          hello.From,
			Fingerprint: t.config.Certificate.Fingerprint(),
			Setup:       SetupActive,
			Addr:        t.Addr(),
			SentAt:      time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := t.config.Signaler.Publish(ctx, answer); err != nil {
			logger.Error("publish answer failed", "error", err)
			t.removePeer(p, err)
			return
		}
		if _, err := p.sess.DriveHandshake(); err != nil {
			logger.Error("drive handshake failed", "error", err)
			t.removePeer(p, err)
			return
		}
		logger.Info("accepted offer, driving handshake")

	case SetupActive:
		t.mu.Lock()
		p := t.peers[hello.From]
		if p == nil {
			t.mu.Unlock()
			logger.Debug("active hello for unknown peer")
			return
		}
		p.addr = addr
		p.fingerprint = hello.Fingerprint
		t.byAddr[addr.String()] = p
		t.mu.Unlock()
		logger.Info("peer accepted our offer", "addr", hello.Addr)

	default:
		logger.Warn("hello with unknown setup value")
	}
}

// addPeerLocked registers a peer and its session. Caller holds t.mu.
// addr may be nil when the peer's address is not yet known.
func (t *Transport) addPeerLocked(remoteID string, role session.Role, addr *net.UDPAddr, fingerprint string) (*peer, error) {
	p := &peer{
		id:          remoteID,
		addr:        addr,
		fingerprint: fingerprint,
		done:        make(chan struct{}),
	}

	// Validate already vetted the profile names.
	profiles, err := dtlsProfiles(t.config.SRTPProfiles)
	if err != nil {
		return nil, err
	}
	engine := dtlsengine.New(dtlsengine.Config{
		Certificate:  t.config.Certificate.TLSCertificate(),
		SRTPProfiles: profiles,
		Logger:       t.logger.With("peer", remoteID),
		Clock:        t.clk,
	})
	sess, err := session.New(session.Config{
		Engine:        engine,
		Queue:         t.queue,
		LocalID:       t.config.LocalID,
		RemoteID:      remoteID,
		Role:          role,
		Logger:        t.logger,
		OnEstablished: func(pair *keying.CertPair) { t.finishEstablishment(p, pair) },
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	p.sess = sess

	t.peers[remoteID] = p
	if addr != nil {
		t.byAddr[addr.String()] = p
	}
	return p, nil
}

// finishEstablishment runs from the session's completion handoff:
// verify the presented certificate against the announced fingerprint,
// then stand up the media context. The pair is wiped by the session
// when this returns; mediacrypt copies what it keeps.
func (t *Transport) finishEstablishment(p *peer, pair *keying.CertPair) {
	certs := p.sess.PeerCertificates()
	if len(certs) == 0 {
		t.logger.Error("established session presented no certificate", "peer", p.id)
		t.removePeer(p, ErrFingerprintMismatch)
		return
	}
	actual := identity.FingerprintOf(certs[0])

	t.mu.Lock()
	announced := p.fingerprint
	t.mu.Unlock()
	if announced == "" || actual != announced {
		t.logger.Error("peer certificate does not match announced fingerprint",
			"peer", p.id, "announced", announced, "actual", actual)
		t.removePeer(p, ErrFingerprintMismatch)
		return
	}

	media, err := mediacrypt.New(pair, p.sess.Role() == session.RoleAct, t.logger.With("peer", p.id))
	if err != nil {
		t.logger.Error("media context setup failed", "peer", p.id, "error", err)
		t.removePeer(p, err)
		return
	}

	t.mu.Lock()
	p.media = media
	t.mu.Unlock()
	p.succeed()
	t.logger.Info("peer established", "peer", p.id, "role", p.sess.Role(), "fingerprint", actual)
}

// removePeer tears a peer down and releases anyone waiting on it.
// The session close runs on its own goroutine: removePeer may be
// invoked from the establishment callback, which the session can run
// on the very goroutine its Close waits for.
func (t *Transport) removePeer(p *peer, cause error) {
	t.mu.Lock()
	delete(t.peers, p.id)
	if p.addr != nil {
		delete(t.byAddr, p.addr.String())
	}
	t.mu.Unlock()

	p.fail(cause)
	go p.sess.Close()
}

// Connect publishes an actpass hello toward remoteID and registers a
// passive-capable session. The peer answers with an active hello and
// drives; our side resolves to the responder role on its first
// inbound flight. Use WaitEstablished to block for the outcome.
func (t *Transport) Connect(ctx context.Context, remoteID string) error {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	if _, exists := t.peers[remoteID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("transport: peer %s already registered", remoteID)
	}
	p, err := t.addPeerLocked(remoteID, session.RoleActPass, nil, "")
	t.mu.Unlock()
	if err != nil {
		return err
	}

	hello := Hello{
		From:        t.config.LocalID,
		To:          remoteID,
		Fingerprint: t.config.Certificate.Fingerprint(),
		Setup:       SetupActPass,
		Addr:        t.Addr(),
		SentAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := t.config.Signaler.Publish(ctx, hello); err != nil {
		t.removePeer(p, err)
		return fmt.Errorf("publish offer: %w", err)
	}
	t.logger.Info("published offer", "peer", remoteID)
	return nil
}

// WaitEstablished blocks until the named peer's handshake resolves,
// bounded by the handshake timeout.
func (t *Transport) WaitEstablished(ctx context.Context, remoteID string) error {
	t.mu.Lock()
	p := t.peers[remoteID]
	t.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, remoteID)
	}

	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.clk.After(t.config.HandshakeTimeout):
		return fmt.Errorf("transport: handshake with %s timed out", remoteID)
	case <-t.closed:
		return fmt.Errorf("transport: closed while waiting for %s", remoteID)
	}
}

// SendData encrypts application data to an established peer over the
// session's DTLS channel.
func (t *Transport) SendData(remoteID string, payload []byte) (int, error) {
	t.mu.Lock()
	p := t.peers[remoteID]
	t.mu.Unlock()
	if p == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, remoteID)
	}
	return p.sess.Send(payload)
}

// SendMedia protects one RTP packet and serializes it onto the shared
// outbound queue, the same byte stream the session's handshake output
// uses.
func (t *Transport) SendMedia(remoteID string, packet *rtp.Packet) error {
	t.mu.Lock()
	p := t.peers[remoteID]
	var media *mediacrypt.Context
	if p != nil {
		media = p.media
	}
	t.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, remoteID)
	}
	if media == nil {
		return session.ErrNotReady
	}

	protected, err := media.ProtectRTP(packet)
	if err != nil {
		return err
	}
	if err := t.queue.Put(session.OutboundPacket{
		Local:   t.config.LocalID,
		Remote:  remoteID,
		Payload: protected,
	}); err != nil {
		return fmt.Errorf("enqueue media packet: %w", err)
	}
	return nil
}

// Peer returns the session for a registered peer, mainly for
// inspection in tests and diagnostics.
func (t *Transport) Peer(remoteID string) (*session.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.peers[remoteID]
	if p == nil {
		return nil, false
	}
	return p.sess, true
}

// Close shuts the transport down: queue, socket, and every session.
// Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.queue.Close()

		t.mu.Lock()
		conn := t.conn
		peers := make([]*peer, 0, len(t.peers))
		for _, p := range t.peers {
			peers = append(peers, p)
		}
		t.mu.Unlock()

		for _, p := range peers {
			p.fail(errors.New("transport closed"))
			p.sess.Close()
		}
		if conn != nil {
			conn.Close()
		}
	})
	return nil
}
