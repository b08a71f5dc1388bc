// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUBasicOperations(t *testing.T) {
	c := NewLRU[int](3, time.Minute)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}

	// "a" was just touched; adding "d" must evict "b" (oldest).
	c.Add("d", 4)

	if c.Contains("b") {
		t.Error("expected b to be evicted")
	}
	if !c.Contains("a") || !c.Contains("c") || !c.Contains("d") {
		t.Error("expected a, c, d to remain")
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRU[string](10, 10*time.Millisecond)

	c.Add("k", "v")
	if !c.Contains("k") {
		t.Fatal("expected k before expiry")
	}

	time.Sleep(20 * time.Millisecond)

	if c.Contains("k") {
		t.Error("expected k expired")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Get after expiry should miss")
	}
}

func TestLRUCleanupExpired(t *testing.T) {
	c := NewLRU[int](10, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("k%d", i), i)
	}

	time.Sleep(20 * time.Millisecond)

	if removed := c.CleanupExpired(); removed != 5 {
		t.Errorf("CleanupExpired() = %d, want 5", removed)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", c.Len())
	}
}

func TestDedupSetSeen(t *testing.T) {
	d := NewDedupSet(100, time.Minute)

	if d.Seen("event-1") {
		t.Error("first observation must not be a duplicate")
	}
	if !d.Seen("event-1") {
		t.Error("second observation within TTL must be a duplicate")
	}
	if d.Seen("event-2") {
		t.Error("distinct key must not be a duplicate")
	}
}

func TestDedupSetTTLWindow(t *testing.T) {
	d := NewDedupSet(100, 10*time.Millisecond)

	if d.Seen("e") {
		t.Fatal("fresh key reported as duplicate")
	}
	time.Sleep(20 * time.Millisecond)
	if d.Seen("e") {
		t.Error("key past TTL must be treated as new")
	}
}

func TestDedupSetCapacityBound(t *testing.T) {
	d := NewDedupSet(10, time.Minute)
	for i := 0; i < 100; i++ {
		d.Seen(fmt.Sprintf("e%d", i))
	}
	if d.Len() > 10 {
		t.Errorf("Len() = %d, want <= 10", d.Len())
	}
}
