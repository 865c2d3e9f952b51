// Package system exercises the real-time clock adapter.
package system

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockEveryRunsUntilStopped checks the ticker callback fires and stops cleanly.
func TestClockEveryRunsUntilStopped(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	stop := New().Every(5*time.Millisecond, func() { calls.Add(1) })

	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	stop()
	stop()

	settled := calls.Load()
	if settled < 2 {
		t.Fatalf("expected at least two ticks, got %d", settled)
	}
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != settled {
		t.Fatalf("callback fired after stop: %d -> %d", settled, calls.Load())
	}
}

// TestClockEveryIgnoresInvalidInterval verifies non-positive intervals never schedule work.
func TestClockEveryIgnoresInvalidInterval(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	stop := New().Every(0, func() { calls.Add(1) })
	stop()
	if calls.Load() != 0 {
		t.Fatalf("expected no calls, got %d", calls.Load())
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}
