// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/peersec/keying"
	"github.com/bureau-foundation/peersec/lib/packetqueue"
)

// Engine is the session's boundary to the embedded DTLS endpoint.
// dtlsengine.Engine is the production implementation; tests use a
// fake. The session serializes all calls, so implementations need
// not be safe for concurrent use except for the channel accessors.
type Engine interface {
	// Start launches the handshake attempt; client chooses the
	// driving side. Called at most once, on role resolution.
	Start(client bool) error

	// Ingest feeds one received datagram and returns any decrypted
	// application data. Zero output with a nil error is the normal
	// "need more data" case; a non-nil error is fatal.
	Ingest(datagram []byte) ([]byte, error)

	// WriteApplicationData encrypts payload into pending output.
	WriteApplicationData(payload []byte) (int, error)

	// DrainOutput removes all pending outbound bytes in one pass.
	DrainOutput() []byte

	// OutputReady signals pending outbound bytes produced outside
	// any session call, such as retransmission timers.
	OutputReady() <-chan struct{}

	// HandshakeDone closes when the handshake attempt resolves; Err
	// reports the failure if it did not succeed. Ready is the
	// success shorthand.
	HandshakeDone() <-chan struct{}
	Ready() bool
	Err() error

	// PeerCertificates returns the remote DER chain after
	// establishment.
	PeerCertificates() [][]byte

	// ExportKeyingMaterial is the RFC 5705 exporter over the
	// completed handshake.
	ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error)

	// ProtectionProfileID returns the negotiated SRTP profile code
	// point.
	ProtectionProfileID() (uint16, error)

	Close() error
}

// OutboundPacket is one flushed datagram tagged with the logical
// endpoint identifiers the transport uses for routing and
// diagnostics. Payload is an owned copy; nothing aliases the
// engine's buffers.
type OutboundPacket struct {
	Local   string
	Remote  string
	Payload []byte
}

// Config assembles a Session. Engine, Queue, and the endpoint
// identifiers are required; everything is injected, nothing global.
type Config struct {
	Engine Engine

	// Queue receives every flushed datagram. Shared with other
	// producer sessions and consumed by the transport's sender.
	Queue *packetqueue.Queue[OutboundPacket]

	// LocalID and RemoteID are opaque endpoint identifiers carried
	// on outbound packets and in log records. No protocol meaning.
	LocalID  string
	RemoteID string

	// Role is the initial role, typically RoleActPass unless
	// signaling pinned a side.
	Role Role

	// OnEstablished, if set, runs once on handshake completion with
	// the freshly exported key pair. The callback must copy what it
	// needs; the pair is wiped when it returns.
	OnEstablished func(*keying.CertPair)

	// Logger receives session diagnostics. Nil discards.
	Logger *slog.Logger
}

// Session is one secure-channel establishment attempt toward one
// peer. All state is behind one mutex; DriveHandshake and Ingest on
// the same session serialize, sessions never contend with each
// other.
type Session struct {
	engine        Engine
	queue         *packetqueue.Queue[OutboundPacket]
	localID       string
	remoteID      string
	logger        *slog.Logger
	onEstablished func(*keying.CertPair)

	mu      sync.Mutex
	role    Role
	kind    Kind
	started bool
	closed  bool
	fatal   error

	stop        chan struct{}
	watcherDone chan struct{}
}

// New builds a session and starts its output watcher.
func New(config Config) (*Session, error) {
	if config.Engine == nil {
		return nil, fmt.Errorf("session: Engine is required")
	}
	if config.Queue == nil {
		return nil, fmt.Errorf("session: Queue is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Session{
		engine:        config.Engine,
		queue:         config.Queue,
		localID:       config.LocalID,
		remoteID:      config.RemoteID,
		logger:        logger.With("local", config.LocalID, "remote", config.RemoteID),
		onEstablished: config.OnEstablished,
		role:          config.Role,
		stop:          make(chan struct{}),
		watcherDone:   make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

// watch forwards engine-initiated output (retransmission timers) to
// the queue and observes handshake resolution, so completion and
// retransmits are handled even when the transport is quiet.
func (s *Session) watch() {
	defer close(s.watcherDone)

	done := s.engine.HandshakeDone()
	for {
		select {
		case <-s.stop:
			return
		case <-s.engine.OutputReady():
			if _, err := s.Flush(); err != nil {
				return
			}
		case <-done:
			done = nil // resolved once; stop selecting on it
			s.observeCompletion()
		}
	}
}

// DriveHandshake takes (or continues) the initiating side of the
// handshake and flushes whatever the engine produced, returning the
// flushed byte count. Zero is not an error: pion produces flights on
// its own schedule and the watcher picks up stragglers.
//
// Valid for RoleAct and RoleActPass only; RoleActPass resolves to
// RoleAct permanently before anything else happens.
func (s *Session) DriveHandshake() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.fatal != nil {
		return 0, ErrSessionClosed
	}
	switch s.role {
	case RolePass, RoleHoldConn:
		return 0, fmt.Errorf("drive handshake as %s: %w", s.role, ErrWrongState)
	}
	if s.role == RoleActPass {
		s.role = RoleAct
		s.logger.Debug("role resolved", "role", s.role)
	}
	if !s.started {
		s.started = true
		if err := s.engine.Start(true); err != nil {
			s.fatal = err
			return 0, fmt.Errorf("start handshake: %w", err)
		}
	}
	return s.flushLocked()
}

// Ingest feeds one received datagram through the engine: resolves
// the role if still undecided, flushes output produced before and
// after the read, returns any decrypted application data, and flips
// the session to established the first time the engine reports
// completion.
//
// A zero-length datagram is a complete no-op. A fatal engine failure
// is logged with both endpoint identifiers, latches the session
// unusable, and surfaces as ErrProtocol.
func (s *Session) Ingest(datagram []byte) ([]byte, error) {
	if len(datagram) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.closed || s.fatal != nil {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.role == RoleHoldConn {
		s.mu.Unlock()
		return nil, fmt.Errorf("ingest as %s: %w", RoleHoldConn, ErrWrongState)
	}
	if s.role == RoleActPass {
		// Inbound traffic while undecided means the peer is driving;
		// assume the responder side permanently.
		s.role = RolePass
		s.logger.Debug("role resolved", "role", s.role)
	}
	if !s.started {
		s.started = true
		if err := s.engine.Start(s.role == RoleAct); err != nil {
			s.fatal = err
			s.mu.Unlock()
			return nil, fmt.Errorf("start handshake: %w", err)
		}
	}

	// Mirror of the original flush protocol: drain anything pending
	// before the read, then again after, so handshake progress made
	// by this datagram leaves on this call when the engine is quick
	// enough and via the watcher otherwise.
	if _, err := s.flushLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	data, err := s.engine.Ingest(datagram)
	if err != nil {
		s.fatal = err
		s.mu.Unlock()
		s.logger.Error("fatal handshake failure", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if _, err := s.flushLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	establish := s.kind == KindNew && s.engine.Ready()
	var callback func(*keying.CertPair)
	var client bool
	if establish {
		s.kind = KindEstablished
		callback = s.takeEstablishedCallbackLocked()
		client = s.role == RoleAct
	}
	s.mu.Unlock()

	if establish {
		s.announceEstablished(callback, client)
	}
	return data, nil
}

// Flush drains the engine's entire pending-output buffer in a single
// pass into one owned datagram, enqueues it tagged with the session's
// endpoint identifiers, and returns the byte count. Nothing pending
// is (0, nil). An enqueue failure returns the queue's error with a
// zero count, distinguishable from the idle case.
func (s *Session) Flush() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.fatal != nil {
		return 0, ErrSessionClosed
	}
	return s.flushLocked()
}

func (s *Session) flushLocked() (int, error) {
	out := s.engine.DrainOutput()
	if len(out) == 0 {
		return 0, nil
	}
	packet := OutboundPacket{Local: s.localID, Remote: s.remoteID, Payload: out}
	if err := s.queue.Put(packet); err != nil {
		return 0, fmt.Errorf("enqueue %d flushed bytes: %w", len(out), err)
	}
	return len(out), nil
}

// Send encrypts application data through the engine and flushes the
// resulting records. ErrNotReady before establishment.
func (s *Session) Send(payload []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.fatal != nil {
		return 0, ErrSessionClosed
	}
	if s.kind != KindEstablished {
		return 0, ErrNotReady
	}

	n, err := s.engine.WriteApplicationData(payload)
	if err != nil {
		return 0, fmt.Errorf("encrypt %d bytes: %w", len(payload), err)
	}
	if _, err := s.flushLocked(); err != nil {
		return 0, err
	}
	return n, nil
}

// CertPair exports fresh keying material and partitions it by the
// session's resolved role. ErrNotReady until establishment; callers
// are expected to poll, so the condition is not logged. The caller
// owns the pair and must Wipe it after copying the keys out.
func (s *Session) CertPair() (*keying.CertPair, error) {
	s.mu.Lock()
	if s.closed || s.fatal != nil {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.kind != KindEstablished {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	client := s.role == RoleAct
	s.mu.Unlock()

	return s.exportPair(client)
}

// exportPair draws material from the engine, flattens it into a
// CertPair, and wipes the intermediate material. No copy is retained.
func (s *Session) exportPair(client bool) (*keying.CertPair, error) {
	material, err := keying.Export(s.engine, client)
	if err != nil {
		return nil, err
	}
	defer material.Close()

	profileID, err := s.engine.ProtectionProfileID()
	if err != nil {
		return nil, err
	}
	profile, err := keying.ProfileName(profileID)
	if err != nil {
		return nil, err
	}
	return keying.NewCertPair(material, profile), nil
}

// observeCompletion runs from the watcher when the handshake attempt
// resolves, covering completions whose final flight the engine
// processed after Ingest returned.
func (s *Session) observeCompletion() {
	if err := s.engine.Err(); err != nil {
		s.mu.Lock()
		alreadyDead := s.closed || s.fatal != nil
		if !alreadyDead {
			s.fatal = err
		}
		s.mu.Unlock()
		if !alreadyDead {
			s.logger.Error("fatal handshake failure", "error", err)
		}
		return
	}

	s.mu.Lock()
	if s.closed || s.kind == KindEstablished {
		s.mu.Unlock()
		return
	}
	s.kind = KindEstablished
	callback := s.takeEstablishedCallbackLocked()
	client := s.role == RoleAct
	s.mu.Unlock()

	s.announceEstablished(callback, client)
}

// takeEstablishedCallbackLocked consumes the one-shot completion
// callback. Caller holds s.mu.
func (s *Session) takeEstablishedCallbackLocked() func(*keying.CertPair) {
	callback := s.onEstablished
	s.onEstablished = nil
	return callback
}

// announceEstablished logs completion and runs the key handoff. The
// pair is wiped the moment the callback returns; the consumer copies
// what it keeps.
func (s *Session) announceEstablished(callback func(*keying.CertPair), client bool) {
	s.logger.Info("handshake established", "role", s.Role())
	if callback == nil {
		return
	}
	pair, err := s.exportPair(client)
	if err != nil {
		s.logger.Error("key export after establishment failed", "error", err)
		return
	}
	callback(pair)
	pair.Wipe()
}

// Role returns the current role.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Kind returns the lifecycle stage.
func (s *Session) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Established reports whether the handshake has completed.
func (s *Session) Established() bool {
	return s.Kind() == KindEstablished
}

// LocalID returns the local endpoint identifier.
func (s *Session) LocalID() string { return s.localID }

// RemoteID returns the remote endpoint identifier.
func (s *Session) RemoteID() string { return s.remoteID }

// PeerCertificates returns the remote DER chain after establishment,
// for fingerprint verification against signaling.
func (s *Session) PeerCertificates() [][]byte {
	return s.engine.PeerCertificates()
}

// Err returns the latched fatal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Close stops the watcher and releases the engine. The engine handle
// goes before anything that might reference the certificate's key
// material. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	err := s.engine.Close()
	<-s.watcherDone
	return err
}
