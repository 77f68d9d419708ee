package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(1, 2).WithClock(func() time.Time { return now })

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("burst of 2 should pass")
	}
	if l.Allow("a") {
		t.Fatalf("third call should be limited")
	}
	if !l.Allow("b") {
		t.Fatalf("keys must not share a bucket")
	}

	now = now.Add(1100 * time.Millisecond)
	if !l.Allow("a") {
		t.Fatalf("expected a refilled token")
	}
	if l.Keys() != 2 {
		t.Fatalf("keys = %d", l.Keys())
	}
}
