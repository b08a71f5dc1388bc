// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"context"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestCriticalityLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.1, "low"},
		{0.39, "low"},
		{0.4, "medium"},
		{0.6, "high"},
		{0.8, "critical"},
		{1.0, "critical"},
	}
	for _, tt := range tests {
		if got := CriticalityLevel(tt.score); got != tt.want {
			t.Errorf("CriticalityLevel(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestEstimateCriticalityUnknownRepo(t *testing.T) {
	got := EstimateCriticality(nil, "someone/sandbox", time.Now())
	if got < 0 || got > 0.2 {
		t.Errorf("criticality = %v, want small baseline for unknown repo", got)
	}
}

func TestEstimateCriticalityProductionName(t *testing.T) {
	plain := EstimateCriticality(nil, "acme/widgets", time.Now())
	prod := EstimateCriticality(nil, "acme/payments-production", time.Now())
	if prod <= plain {
		t.Errorf("production-named repo %v should outrank plain %v", prod, plain)
	}
}

func TestEstimateCriticalityBusyRepo(t *testing.T) {
	now := time.Now()
	repo := models.NewRepoProfile("bigco/infra", now.Add(-2*365*24*time.Hour))
	repo.EventsPerHour = 80
	repo.ContributorCount = 150
	repo.UpdatedAt = now

	got := EstimateCriticality(repo, "bigco/infra", now)
	if got < 0.6 {
		t.Errorf("criticality = %v, want >= 0.6 for busy long-lived repo", got)
	}
	if got > 1 {
		t.Errorf("criticality = %v exceeds 1", got)
	}
}

func TestContextualDetectorUsesCachedCriticality(t *testing.T) {
	d := NewContextualDetector(time.Hour)
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	repo := models.NewRepoProfile("acme/widgets", now.Add(-time.Hour))
	repo.Criticality = 0.72
	repo.CriticalityTTL = now.Add(30 * time.Minute)

	event := testEvent(t, "ctx1", now, models.EventTypePush, "alice", "acme/widgets", nil)

	result, err := d.Detect(context.Background(), &Input{
		Event: event, Repo: repo, History: newTestHistory(), Now: now,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if result.Score != 0.72 {
		t.Errorf("score = %v, want cached 0.72", result.Score)
	}
	if result.Detail["criticality_level"] != "high" {
		t.Errorf("level = %v, want high", result.Detail["criticality_level"])
	}
}

func TestContextualDetectorScoreRange(t *testing.T) {
	d := NewContextualDetector(time.Hour)
	now := time.Now()
	event := testEvent(t, "ctx2", now, models.EventTypePush, "alice", "acme/widgets", nil)

	result, err := d.Detect(context.Background(), &Input{
		Event: event, History: newTestHistory(), Now: now,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if result.Score < 0 || result.Score > 1 {
		t.Errorf("score = %v out of range", result.Score)
	}
	if len(result.Features) != len(contextualFeatureNames) {
		t.Errorf("features len = %d, want %d", len(result.Features), len(contextualFeatureNames))
	}
}
