// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dtlsengine

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// pipe is the in-memory datagram conduit between the session layer
// and the embedded DTLS endpoint. The endpoint holds the net.Conn
// side: its Read blocks on datagrams deposited by Deliver, its Write
// appends to a pending-output buffer that DrainOutput swaps out
// whole. Datagram boundaries are preserved on the read side; the
// write side deliberately coalesces, since a flush is one outbound
// datagram and multi-record datagrams are legal DTLS.
type pipe struct {
	mu sync.Mutex

	// inbound datagrams awaiting the engine's reader, oldest first.
	inbound [][]byte

	// arrival is closed to wake a parked reader when a datagram
	// lands or the pipe closes, then replaced.
	arrival chan struct{}

	// drained is closed whenever the reader parks on an empty queue,
	// then replaced when a datagram arrives. Deliver waits on it so
	// the caller knows the engine has consumed its datagram.
	drained chan struct{}

	// parked is true while the engine's reader is blocked on an
	// empty inbound queue.
	parked bool

	// output accumulates engine writes between drains.
	output bytes.Buffer

	// outputReady carries one pending signal that output is
	// non-empty.
	outputReady chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	readDeadline  pipeDeadline
	writeDeadline pipeDeadline
}

var _ net.Conn = (*pipe)(nil)

func newPipe() *pipe {
	return &pipe{
		arrival:       make(chan struct{}),
		drained:       make(chan struct{}),
		outputReady:   make(chan struct{}, 1),
		closed:        make(chan struct{}),
		readDeadline:  makePipeDeadline(),
		writeDeadline: makePipeDeadline(),
	}
}

// Deliver deposits one datagram for the engine and waits until the
// engine has consumed it and parked on an empty queue again, so that
// the caller observes a quiescent engine afterwards. The expired
// channel bounds the wait; on expiry the datagram stays queued and
// Deliver returns nil, since late consumption is not an error.
func (p *pipe) Deliver(datagram []byte, expired <-chan time.Time) error {
	p.mu.Lock()
	select {
	case <-p.closed:
		p.mu.Unlock()
		return io.ErrClosedPipe
	default:
	}

	p.inbound = append(p.inbound, datagram)
	p.parked = false
	p.drained = make(chan struct{})
	close(p.arrival)
	p.arrival = make(chan struct{})
	drained := p.drained
	p.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-expired:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	}
}

// Read delivers the oldest queued datagram, blocking until one
// arrives, the read deadline passes, or the pipe closes. Exactly one
// datagram per call; oversized datagrams truncate into p like a UDP
// socket read.
func (p *pipe) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		select {
		case <-p.closed:
			p.mu.Unlock()
			return 0, io.ErrClosedPipe
		default:
		}
		if isClosedChan(p.readDeadline.wait()) {
			p.mu.Unlock()
			return 0, os.ErrDeadlineExceeded
		}

		if len(p.inbound) > 0 {
			datagram := p.inbound[0]
			p.inbound[0] = nil
			p.inbound = p.inbound[1:]
			if len(p.inbound) == 0 {
				// Consumption is signaled when the queue empties:
				// the engine now owns every byte Deliver deposited.
				p.parked = true
				close(p.drained)
			}
			p.mu.Unlock()
			return copy(b, datagram), nil
		}

		if !p.parked {
			p.parked = true
			close(p.drained)
		}
		arrival := p.arrival
		deadline := p.readDeadline.wait()
		p.mu.Unlock()

		select {
		case <-arrival:
		case <-deadline:
			return 0, os.ErrDeadlineExceeded
		case <-p.closed:
			return 0, io.ErrClosedPipe
		}
	}
}

// Write appends b to the pending-output buffer and signals readiness.
// It never blocks beyond the mutex.
func (p *pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	if isClosedChan(p.writeDeadline.wait()) {
		return 0, os.ErrDeadlineExceeded
	}

	p.output.Write(b)
	select {
	case p.outputReady <- struct{}{}:
	default:
	}
	return len(b), nil
}

// DrainOutput removes and returns everything the engine has written
// since the last drain, as one owned slice. Returns nil when nothing
// is pending. Single pass: the internal buffer is reset, never
// partially read.
func (p *pipe) DrainOutput() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.output.Len() == 0 {
		return nil
	}
	out := make([]byte, p.output.Len())
	copy(out, p.output.Bytes())
	p.output.Reset()
	return out
}

// OutputReady signals (capacity one, coalescing) that the engine has
// produced output since the last drain.
func (p *pipe) OutputReady() <-chan struct{} {
	return p.outputReady
}

// Close wakes every blocked reader, writer, and deliverer with
// io.ErrClosedPipe. Idempotent.
func (p *pipe) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipe) LocalAddr() net.Addr  { return pipeAddr{} }
func (p *pipe) RemoteAddr() net.Addr { return pipeAddr{} }

func (p *pipe) SetDeadline(t time.Time) error {
	p.readDeadline.set(t)
	p.writeDeadline.set(t)
	return nil
}

func (p *pipe) SetReadDeadline(t time.Time) error {
	p.readDeadline.set(t)
	return nil
}

func (p *pipe) SetWriteDeadline(t time.Time) error {
	p.writeDeadline.set(t)
	return nil
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "dtls-pipe" }
func (pipeAddr) String() string  { return "pipe" }

// pipeDeadline is the standard library's net.Pipe deadline mechanism:
// a channel that is closed when the deadline passes and re-armed when
// it moves.
type pipeDeadline struct {
	mu     sync.Mutex
	timer  *time.Timer
	cancel chan struct{}
}

func makePipeDeadline() pipeDeadline {
	return pipeDeadline{cancel: make(chan struct{})}
}

// set moves the deadline. The zero time means no deadline.
func (d *pipeDeadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil && !d.timer.Stop() {
		<-d.cancel // wait for the timer callback to finish
	}
	d.timer = nil

	// Re-arm: if the deadline channel was closed, replace it.
	closed := isClosedChan(d.cancel)
	if t.IsZero() {
		if closed {
			d.cancel = make(chan struct{})
		}
		return
	}

	if dur := time.Until(t); dur > 0 {
		if closed {
			d.cancel = make(chan struct{})
		}
		cancel := d.cancel
		d.timer = time.AfterFunc(dur, func() { close(cancel) })
		return
	}

	// Deadline already passed.
	if !closed {
		close(d.cancel)
	}
}

// wait returns a channel that is closed once the deadline passes.
func (d *pipeDeadline) wait() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel
}

func isClosedChan(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
