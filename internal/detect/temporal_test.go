// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestTemporalActivityBurst(t *testing.T) {
	// Twelve pushes from one actor within 90 seconds across two repos.
	// events/min = 12 / 1.5 = 8, severity = clip((8-2)/8) = 0.75.
	d := NewTemporalDetector(testDetectorConfig())
	history := newTestHistory()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	var last *models.Event
	for i := 0; i < 12; i++ {
		repo := "acme/one"
		if i%2 == 1 {
			repo = "acme/two"
		}
		ts := base.Add(time.Duration(i) * 90 * time.Second / 11)
		last = testEvent(t, fmt.Sprintf("b%d", i), ts, models.EventTypePush, "burster", repo, nil)
		history.Observe(last)
	}

	result, err := d.Detect(context.Background(), &Input{
		Event: last, History: history, Now: last.CreatedAt,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	var burst *models.TemporalPattern
	for i := range result.Patterns {
		if result.Patterns[i].Type == "activity_burst" {
			burst = &result.Patterns[i]
		}
	}
	if burst == nil {
		t.Fatal("expected activity_burst pattern")
	}
	if math.Abs(burst.Severity-0.75) > 1e-9 {
		t.Errorf("burst severity = %v, want 0.75", burst.Severity)
	}
	if burst.EventCount != 12 {
		t.Errorf("burst event count = %d, want 12", burst.EventCount)
	}
	if math.Abs(result.Score-0.75) > 1e-9 {
		t.Errorf("score = %v, want 0.75", result.Score)
	}
}

func TestTemporalNoBurstBelowThresholds(t *testing.T) {
	d := NewTemporalDetector(testDetectorConfig())
	history := newTestHistory()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	// Four events in five minutes: below the count threshold.
	var last *models.Event
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		last = testEvent(t, fmt.Sprintf("q%d", i), ts, models.EventTypePush, "calm", "acme/widgets", nil)
		history.Observe(last)
	}

	result, err := d.Detect(context.Background(), &Input{
		Event: last, History: history, Now: last.CreatedAt,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, p := range result.Patterns {
		if p.Type == "activity_burst" {
			t.Error("burst must not fire below min count")
		}
	}
}

func TestTemporalCoordinatedActivity(t *testing.T) {
	// Five distinct actors, three events each, same repo, within eight
	// minutes: coordination severity = clip(5/10) = 0.5.
	d := NewTemporalDetector(testDetectorConfig())
	history := newTestHistory()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	var last *models.Event
	n := 0
	for round := 0; round < 3; round++ {
		for actor := 0; actor < 5; actor++ {
			ts := base.Add(time.Duration(n) * 32 * time.Second) // 15 events over 8 min
			last = testEvent(t, fmt.Sprintf("c%d", n), ts, models.EventTypeIssues,
				fmt.Sprintf("actor%d", actor), "target/repo", nil)
			history.Observe(last)
			n++
		}
	}

	result, err := d.Detect(context.Background(), &Input{
		Event: last, History: history, Now: last.CreatedAt,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	var coord *models.TemporalPattern
	for i := range result.Patterns {
		if result.Patterns[i].Type == "coordinated_activity" {
			coord = &result.Patterns[i]
		}
	}
	if coord == nil {
		t.Fatal("expected coordinated_activity pattern")
	}
	if math.Abs(coord.Severity-0.5) > 1e-9 {
		t.Errorf("coordination severity = %v, want 0.5", coord.Severity)
	}
	if coord.ActorCount != 5 {
		t.Errorf("actor count = %d, want 5", coord.ActorCount)
	}
	if coord.EventCount != 15 {
		t.Errorf("event count = %d, want 15", coord.EventCount)
	}
}

func TestTemporalVelocityAcceleration(t *testing.T) {
	d := NewTemporalDetector(testDetectorConfig())
	history := newTestHistory()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	// Previous window: 3 events over 5 minutes (0.6/min).
	n := 0
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 100 * time.Second)
		history.Observe(testEvent(t, fmt.Sprintf("v%d", n), ts, models.EventTypePush, "accel", "acme/widgets", nil))
		n++
	}
	// Current window: 10 events over 5 minutes (2.0/min), > 3x previous.
	// The cluster spans 4.5 minutes, so the burst rule's span-based rate is
	// 10/4.5 ≈ 2.22/min (severity ≈ 0.03) and acceleration dominates the
	// score.
	var last *models.Event
	for i := 0; i < 10; i++ {
		ts := base.Add(5*time.Minute + time.Duration(i)*30*time.Second)
		last = testEvent(t, fmt.Sprintf("v%d", n), ts, models.EventTypePush, "accel", "acme/widgets", nil)
		history.Observe(last)
		n++
	}

	result, err := d.Detect(context.Background(), &Input{
		Event: last, History: history, Now: last.CreatedAt,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	found := false
	for _, p := range result.Patterns {
		if p.Type == "velocity_acceleration" {
			found = true
			if p.Severity != 0.6 {
				t.Errorf("acceleration severity = %v, want 0.6", p.Severity)
			}
		}
	}
	if !found {
		t.Error("expected velocity_acceleration pattern")
	}
}

func TestTemporalBaselineRatio(t *testing.T) {
	d := NewTemporalDetector(testDetectorConfig())
	history := newTestHistory()
	ts := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	event := testEvent(t, "r1", ts, models.EventTypePush, "alice", "acme/widgets", nil)
	history.Observe(event)

	user := models.NewUserProfile("alice")
	user.SampleCount = 15
	user.Mean[0] = 6 // baseline 6 events/hour = 0.1/min

	result, err := d.Detect(context.Background(), &Input{
		Event: event, User: user, History: history, Now: ts,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	// Current rate = 1 event / 5 min = 0.2/min; ratio = 2.
	if math.Abs(result.Features[1]-2) > 1e-9 {
		t.Errorf("baseline ratio = %v, want 2", result.Features[1])
	}
}

func TestRegularityScore(t *testing.T) {
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	// Perfectly even 60s gaps: cv = 0, regularity = 1.
	even := []ActorEvent{
		{Time: base},
		{Time: base.Add(time.Minute)},
		{Time: base.Add(2 * time.Minute)},
		{Time: base.Add(3 * time.Minute)},
	}
	if got := regularityScore(even); math.Abs(got-1) > 1e-9 {
		t.Errorf("regularityScore(even) = %v, want 1", got)
	}

	// Wildly uneven gaps drive the score toward zero.
	uneven := []ActorEvent{
		{Time: base},
		{Time: base.Add(time.Second)},
		{Time: base.Add(40 * time.Minute)},
		{Time: base.Add(41 * time.Minute)},
	}
	if got := regularityScore(uneven); got > 0.2 {
		t.Errorf("regularityScore(uneven) = %v, want <= 0.2", got)
	}
}
