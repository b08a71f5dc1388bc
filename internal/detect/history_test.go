// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestRepoActivityCountsEventsAndActors(t *testing.T) {
	history := newTestHistory()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		actor := fmt.Sprintf("actor%d", i%3)
		history.Observe(testEvent(t, fmt.Sprintf("ra%d", i), base.Add(time.Duration(i)*time.Second),
			models.EventTypeIssues, actor, "target/repo", nil))
	}
	// Activity on another repo must not bleed in.
	history.Observe(testEvent(t, "other", base, models.EventTypeIssues, "actor0", "other/repo", nil))

	events, actors := history.RepoActivity("target/repo")
	if events != 6 {
		t.Errorf("events = %d, want 6", events)
	}
	if actors != 3 {
		t.Errorf("actors = %d, want 3", actors)
	}

	if events, actors := history.RepoActivity("unseen/repo"); events != 0 || actors != 0 {
		t.Errorf("unseen repo activity = %d/%d, want 0/0", events, actors)
	}
}

func TestCleanupIdleDropsStaleActors(t *testing.T) {
	history := newTestHistory()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	history.Observe(testEvent(t, "s1", base, models.EventTypePush, "stale", "acme/widgets", nil))
	history.Observe(testEvent(t, "f1", base.Add(36*time.Hour), models.EventTypePush, "fresh", "acme/widgets", nil))

	// Two days past the stale actor's last event: its key must go; the
	// fresh actor (and its events) must survive.
	removed := history.CleanupIdle(base.Add(48 * time.Hour))
	if removed == 0 {
		t.Fatal("expected at least one key removed")
	}
	if got := history.ActorEvents("stale", base.Add(-time.Hour)); len(got) != 0 {
		t.Errorf("stale actor still has %d events", len(got))
	}
	if got := history.ActorEvents("fresh", base); len(got) != 1 {
		t.Errorf("fresh actor events = %d, want 1", len(got))
	}
}

func TestCleanupIdleDropsQuietRepos(t *testing.T) {
	history := NewHistory(50 * time.Millisecond)
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	history.Observe(testEvent(t, "r1", base, models.EventTypeIssues, "alice", "acme/widgets", nil))

	// Repo counters run on arrival time; once the short window drains the
	// repo key is reclaimable.
	time.Sleep(80 * time.Millisecond)

	if events, _ := history.RepoActivity("acme/widgets"); events != 0 {
		t.Fatalf("events = %d, want 0 after window drained", events)
	}
	history.CleanupIdle(time.Now())
	if events, actors := history.RepoActivity("acme/widgets"); events != 0 || actors != 0 {
		t.Errorf("repo activity after cleanup = %d/%d, want 0/0", events, actors)
	}
}
