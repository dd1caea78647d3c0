// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestFakeAfterFires verifies that After channels receive exactly when
// the clock is advanced past their deadline, and not before.
func TestFakeAfterFires(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	ch := fake.After(5 * time.Second)

	fake.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatalf("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case got := <-ch:
		want := time.Unix(1005, 0)
		if !got.Equal(want) {
			t.Fatalf("fire time = %v, want %v", got, want)
		}
	default:
		t.Fatalf("After did not fire at its deadline")
	}
}

// TestFakeAfterNonPositive verifies that a non-positive duration
// delivers immediately without registering a waiter.
func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatalf("After(0) did not deliver immediately")
	}
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("PendingCount = %d, want 0", got)
	}
}

// TestFakeAfterFuncStop verifies that a stopped AfterFunc callback
// never runs and that Stop reports whether it won the race.
func TestFakeAfterFuncStop(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	var calls atomic.Int32
	timer := fake.AfterFunc(time.Second, func() { calls.Add(1) })

	if !timer.Stop() {
		t.Fatalf("Stop() = false, want true for a pending timer")
	}
	if timer.Stop() {
		t.Fatalf("second Stop() = true, want false")
	}
	fake.Advance(2 * time.Second)
	if got := calls.Load(); got != 0 {
		t.Fatalf("callback ran %d times after Stop, want 0", got)
	}
}

// TestFakeTickerInterval verifies that a ticker fires once per crossed
// interval and stops cleanly.
func TestFakeTickerInterval(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	fake.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatalf("ticker did not fire after one interval")
	}

	ticker.Stop()
	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatalf("stopped ticker fired")
	default:
	}
}

// TestFakeWaitForTimers verifies the registration rendezvous used by
// timed-wait tests elsewhere in the module.
func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))
	done := make(chan struct{})
	go func() {
		fake.Sleep(3 * time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(3 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Sleep did not return after Advance past its deadline")
	}
}
