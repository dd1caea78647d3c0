// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// TestNewFromBytesZerosSource verifies that the constructor takes
// ownership: the protected copy holds the secret and the caller's
// slice is wiped.
func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("exported-keying-material")
	want := append([]byte(nil), source...)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), want) {
		t.Fatalf("Bytes() = %q, want %q", buffer.Bytes(), want)
	}
	for i, b := range source {
		if b != 0 {
			t.Fatalf("source[%d] = %d after NewFromBytes, want 0", i, b)
		}
	}
}

// TestCloseIdempotent verifies that Close can be called repeatedly and
// that access after Close panics.
func TestCloseIdempotent(t *testing.T) {
	buffer, err := NewFromBytes([]byte("key"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("Bytes() after Close did not panic")
		}
	}()
	buffer.Bytes()
}

// TestZero verifies the slice wipe helper.
func TestZero(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	Zero(data)
	if !bytes.Equal(data, []byte{0, 0, 0, 0}) {
		t.Fatalf("Zero left %v", data)
	}
}

// TestReadFileTrims verifies whitespace trimming and the empty-file
// error.
func TestReadFileTrims(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(path, []byte("  secret-material\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	buffer, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer buffer.Close()
	if got := buffer.String(); got != "secret-material" {
		t.Fatalf("ReadFile content = %q, want %q", got, "secret-material")
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("   \n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadFile(empty); err == nil {
		t.Fatalf("ReadFile on whitespace-only file succeeded, want error")
	}
}
