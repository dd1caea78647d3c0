// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dtlsengine

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/peersec/lib/testutil"
)

// TestPipeDeliverRead verifies datagram boundaries survive the pipe
// and Deliver returns once the reader has consumed the datagram.
func TestPipeDeliverRead(t *testing.T) {
	p := newPipe()
	defer p.Close()

	read := make(chan []byte, 2)
	go func() {
		for range 2 {
			buffer := make([]byte, 64)
			n, err := p.Read(buffer)
			if err != nil {
				return
			}
			read <- buffer[:n]
		}
	}()

	if err := p.Deliver([]byte("first"), time.After(time.Second)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := p.Deliver([]byte("second"), time.After(time.Second)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if got := testutil.RequireReceive(t, read, time.Second, "first datagram"); !bytes.Equal(got, []byte("first")) {
		t.Errorf("first read = %q", got)
	}
	if got := testutil.RequireReceive(t, read, time.Second, "second datagram"); !bytes.Equal(got, []byte("second")) {
		t.Errorf("second read = %q", got)
	}
}

// TestPipeReadDeadline verifies a parked read fails with
// os.ErrDeadlineExceeded when the deadline passes, and that clearing
// the deadline re-arms the pipe.
func TestPipeReadDeadline(t *testing.T) {
	p := newPipe()
	defer p.Close()

	p.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	buffer := make([]byte, 16)
	if _, err := p.Read(buffer); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Read past deadline = %v, want os.ErrDeadlineExceeded", err)
	}

	// Deadline in the past keeps failing until cleared.
	if _, err := p.Read(buffer); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("second Read = %v, want os.ErrDeadlineExceeded", err)
	}

	p.SetReadDeadline(time.Time{})
	done := make(chan []byte, 1)
	go func() {
		n, err := p.Read(buffer)
		if err == nil {
			done <- append([]byte(nil), buffer[:n]...)
		}
	}()
	if err := p.Deliver([]byte("after"), time.After(time.Second)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := testutil.RequireReceive(t, done, time.Second, "read after deadline cleared"); !bytes.Equal(got, []byte("after")) {
		t.Errorf("read = %q, want \"after\"", got)
	}
}

// TestPipeWriteCoalesces verifies successive writes drain as one
// buffer and that DrainOutput empties in a single pass.
func TestPipeWriteCoalesces(t *testing.T) {
	p := newPipe()
	defer p.Close()

	p.Write([]byte("abc"))
	p.Write([]byte("def"))

	testutil.RequireClosed(t, p.OutputReady(), time.Second, "output ready")

	out := p.DrainOutput()
	if !bytes.Equal(out, []byte("abcdef")) {
		t.Errorf("DrainOutput = %q, want %q", out, "abcdef")
	}
	if again := p.DrainOutput(); again != nil {
		t.Errorf("second DrainOutput = %q, want nil", again)
	}
}

// TestPipeCloseWakesEveryone verifies a blocked Read and a pending
// Deliver both fail with io.ErrClosedPipe on Close.
func TestPipeCloseWakesEveryone(t *testing.T) {
	p := newPipe()

	readErr := make(chan error, 1)
	go func() {
		buffer := make([]byte, 8)
		_, err := p.Read(buffer)
		readErr <- err
	}()

	// Give the reader a moment to park, then close.
	time.Sleep(10 * time.Millisecond)
	p.Close()

	if err := testutil.RequireReceive(t, readErr, time.Second, "read unblocked"); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Read after close = %v, want io.ErrClosedPipe", err)
	}
	if err := p.Deliver([]byte("late"), time.After(time.Second)); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Deliver after close = %v, want io.ErrClosedPipe", err)
	}
	if _, err := p.Write([]byte("late")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Write after close = %v, want io.ErrClosedPipe", err)
	}
}
