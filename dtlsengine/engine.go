// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dtlsengine

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/bureau-foundation/peersec/lib/clock"
	"github.com/bureau-foundation/peersec/lib/pionlog"
)

// recordTypeApplicationData is the DTLS record content type for
// application data, the first byte of an encrypted data record.
const recordTypeApplicationData = 23

// readBufferSize bounds a single decrypted record. DTLS records never
// exceed the 16 KiB TLS plaintext limit.
const readBufferSize = 16384

// Defaults for Config fields left zero.
const (
	// DefaultMTU matches pion's DTLS default and keeps handshake
	// flights under typical path MTUs.
	DefaultMTU = 1200

	// DefaultConsumeWait bounds how long Ingest waits for the engine
	// to drain a deposited datagram before returning anyway.
	DefaultConsumeWait = 500 * time.Millisecond

	// DefaultDecryptWait bounds the additional wait for a decrypted
	// application-data record to surface after its datagram was
	// consumed.
	DefaultDecryptWait = 100 * time.Millisecond
)

// ErrNotStarted reports an operation that needs a running handshake
// attempt before Start was called.
var ErrNotStarted = errors.New("dtlsengine: not started")

// ErrNotEstablished reports an operation that needs a completed
// handshake.
var ErrNotEstablished = errors.New("dtlsengine: handshake not complete")

// Config parameterizes an Engine.
type Config struct {
	// Certificate is the local identity presented in the handshake.
	Certificate tls.Certificate

	// SRTPProfiles are offered in the use_srtp extension, in
	// preference order. Empty means SHA1_80 then SHA1_32.
	SRTPProfiles []dtls.SRTPProtectionProfile

	// MTU caps handshake flight datagrams. Zero means DefaultMTU.
	MTU int

	// ReplayProtectionWindow is the engine's record replay window.
	// Zero keeps pion's default.
	ReplayProtectionWindow int

	// FlightInterval is the handshake retransmission interval. Zero
	// keeps pion's default.
	FlightInterval time.Duration

	// ConsumeWait and DecryptWait bound the synchronous portion of
	// Ingest; zero means the package defaults.
	ConsumeWait time.Duration
	DecryptWait time.Duration

	// Logger receives engine diagnostics; pion's internal logging is
	// bridged onto it. Nil discards.
	Logger *slog.Logger

	// Clock times the Ingest waits. Nil means the real clock.
	Clock clock.Clock
}

// Engine runs one pion/dtls endpoint over an in-memory pipe. The
// handshake attempt itself runs on an internal goroutine, so every
// exported method returns promptly: Ingest deposits a datagram and
// reports any decrypted data, DrainOutput collects what the engine
// wants sent, and completion is a closed channel plus an error slot.
//
// An Engine is not safe for concurrent use; the owning session
// serializes access.
type Engine struct {
	config Config
	logger *slog.Logger
	clk    clock.Clock
	pipe   *pipe

	mu      sync.Mutex
	started bool
	client  bool
	closed  bool
	conn    *dtls.Conn
	fatal   error

	// done closes when the handshake attempt resolves either way;
	// fatal holds the failure if it did not succeed.
	done chan struct{}

	// appData carries decrypted application-data records from the
	// post-handshake read loop.
	appData chan []byte
}

// New returns an unstarted engine.
func New(config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if config.MTU == 0 {
		config.MTU = DefaultMTU
	}
	if len(config.SRTPProfiles) == 0 {
		config.SRTPProfiles = []dtls.SRTPProtectionProfile{
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
			dtls.SRTP_AES128_CM_HMAC_SHA1_32,
		}
	}
	if config.ConsumeWait == 0 {
		config.ConsumeWait = DefaultConsumeWait
	}
	if config.DecryptWait == 0 {
		config.DecryptWait = DefaultDecryptWait
	}
	return &Engine{
		config:  config,
		logger:  logger,
		clk:     clk,
		pipe:    newPipe(),
		done:    make(chan struct{}),
		appData: make(chan []byte, 16),
	}
}

// Start launches the handshake attempt in the given role. client
// drives the handshake (sends the first flight); the server role
// awaits one. Start may be called once.
func (e *Engine) Start(client bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return io.ErrClosedPipe
	}
	if e.started {
		return fmt.Errorf("dtlsengine: handshake already started")
	}
	e.started = true
	e.client = client

	dtlsConfig := &dtls.Config{
		Certificates:           []tls.Certificate{e.config.Certificate},
		SRTPProtectionProfiles: e.config.SRTPProfiles,
		// Peer identity is pinned by certificate fingerprint out of
		// band, so a certificate is required but chains are not
		// validated.
		ClientAuth:             dtls.RequireAnyClientCert,
		InsecureSkipVerify:     true,
		MTU:                    e.config.MTU,
		FlightInterval:         e.config.FlightInterval,
		ReplayProtectionWindow: e.config.ReplayProtectionWindow,
		LoggerFactory:          pionlog.NewFactory(e.logger),
	}

	go e.attempt(client, dtlsConfig)
	return nil
}

// attempt runs the blocking pion handshake and records its outcome.
func (e *Engine) attempt(client bool, config *dtls.Config) {
	var conn *dtls.Conn
	var err error
	if client {
		conn, err = dtls.Client(e.pipe, config)
	} else {
		conn, err = dtls.Server(e.pipe, config)
	}

	e.mu.Lock()
	if err != nil {
		if e.fatal == nil {
			e.fatal = err
		}
	} else {
		e.conn = conn
	}
	e.mu.Unlock()
	close(e.done)

	if err == nil {
		go e.readLoop(conn)
	}
}

// readLoop surfaces decrypted application data for Ingest. It owns
// all post-handshake reads; a read failure after establishment is
// fatal to the engine.
func (e *Engine) readLoop(conn *dtls.Conn) {
	for {
		buffer := make([]byte, readBufferSize)
		n, err := conn.Read(buffer)
		if err != nil {
			e.mu.Lock()
			if e.fatal == nil && !e.closed && !errors.Is(err, dtls.ErrConnClosed) {
				e.fatal = err
			}
			e.mu.Unlock()
			return
		}
		if n == 0 {
			continue
		}
		select {
		case e.appData <- buffer[:n]:
		case <-e.pipe.closed:
			return
		}
	}
}

// Ingest feeds one received datagram to the engine and returns any
// application data it decrypted, nil for pure handshake traffic. The
// call waits until the engine has consumed the datagram; for
// application-data records on an established engine it additionally
// waits, bounded, for the decrypt to land so delivery is synchronous
// in the common case. A fatal engine error, whenever detected, is
// returned and latched.
func (e *Engine) Ingest(datagram []byte) ([]byte, error) {
	if len(datagram) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	e.mu.Unlock()

	if err := e.pipe.Deliver(datagram, e.clk.After(e.config.ConsumeWait)); err != nil {
		return nil, err
	}

	if datagram[0] == recordTypeApplicationData && e.Ready() {
		select {
		case data := <-e.appData:
			return data, nil
		case <-e.clk.After(e.config.DecryptWait):
			// Replay-dropped or otherwise discarded record; fall
			// through to the fatal check.
		}
	} else {
		select {
		case data := <-e.appData:
			return data, nil
		default:
		}
	}

	return nil, e.Err()
}

// WriteApplicationData encrypts payload as application data, leaving
// the resulting records in the pending-output buffer.
func (e *Engine) WriteApplicationData(payload []byte) (int, error) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return 0, ErrNotEstablished
	}
	return conn.Write(payload)
}

// DrainOutput removes and returns all pending outbound bytes in one
// pass, nil when idle.
func (e *Engine) DrainOutput() []byte {
	return e.pipe.DrainOutput()
}

// OutputReady signals pending outbound bytes; see pipe.OutputReady.
func (e *Engine) OutputReady() <-chan struct{} {
	return e.pipe.OutputReady()
}

// HandshakeDone returns a channel closed once the handshake attempt
// resolves, successfully or not. Err distinguishes the outcomes.
func (e *Engine) HandshakeDone() <-chan struct{} {
	return e.done
}

// Ready reports a successfully completed handshake.
func (e *Engine) Ready() bool {
	select {
	case <-e.done:
	default:
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil && e.fatal == nil
}

// Err returns the latched fatal error, nil while the engine is
// healthy.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// PeerCertificates returns the remote side's DER certificate chain,
// nil before establishment.
func (e *Engine) PeerCertificates() [][]byte {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	state := conn.ConnectionState()
	return state.PeerCertificates
}

// ExportKeyingMaterial proxies the RFC 5705 exporter over the
// completed handshake.
func (e *Engine) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return nil, ErrNotEstablished
	}
	state := conn.ConnectionState()
	return state.ExportKeyingMaterial(label, context, length)
}

// ProtectionProfileID returns the negotiated SRTP protection profile
// code point.
func (e *Engine) ProtectionProfileID() (uint16, error) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return 0, ErrNotEstablished
	}
	profile, ok := conn.SelectedSRTPProtectionProfile()
	if !ok {
		return 0, fmt.Errorf("dtlsengine: no SRTP protection profile negotiated")
	}
	return uint16(profile), nil
}

// Close tears down the pipe and any live connection. A handshake in
// flight fails fast. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.mu.Unlock()

	e.pipe.Close()
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, dtls.ErrConnClosed) {
			return fmt.Errorf("close DTLS conn: %w", err)
		}
	}
	return nil
}
