// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package cache

import (
	"testing"
	"time"
)

func TestSlidingWindowCounterCount(t *testing.T) {
	sw := NewSlidingWindowCounter(time.Second, 10)

	sw.IncrementOne()
	sw.IncrementOne()
	sw.Increment(3)

	if got := sw.Count(); got != 5 {
		t.Errorf("Count() = %d, want 5", got)
	}
}

func TestSlidingWindowCounterExpiry(t *testing.T) {
	sw := NewSlidingWindowCounter(50*time.Millisecond, 5)

	sw.Increment(10)
	if got := sw.Count(); got != 10 {
		t.Fatalf("Count() = %d, want 10", got)
	}

	time.Sleep(80 * time.Millisecond)

	if got := sw.Count(); got != 0 {
		t.Errorf("Count() after window elapsed = %d, want 0", got)
	}
}

func TestSlidingWindowStoreTotals(t *testing.T) {
	s := NewSlidingWindowStore(time.Minute, 6, 0)

	s.Increment("repo:actor-a")
	s.Increment("repo:actor-a")
	s.Increment("repo:actor-b")

	total, active := s.Totals()
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if active != 2 {
		t.Errorf("active keys = %d, want 2", active)
	}
}

func TestSlidingWindowStoreKeys(t *testing.T) {
	s := NewSlidingWindowStore(time.Minute, 6, 0)

	s.Increment("actor:alice")
	s.Increment("actor:alice")
	s.Increment("actor:bob")

	if got := s.Count("actor:alice"); got != 2 {
		t.Errorf("Count(alice) = %d, want 2", got)
	}
	if got := s.Count("actor:bob"); got != 1 {
		t.Errorf("Count(bob) = %d, want 1", got)
	}
	if got := s.Count("actor:carol"); got != 0 {
		t.Errorf("Count(carol) = %d, want 0", got)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}
