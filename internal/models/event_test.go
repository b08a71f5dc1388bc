// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"testing"
	"time"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      Priority
	}{
		{EventTypePush, PriorityHigh},
		{EventTypeWorkflowRun, PriorityHigh},
		{EventTypeDelete, PriorityHigh},
		{EventTypeMember, PriorityHigh},
		{EventTypePullRequest, PriorityMedium},
		{EventTypeIssues, PriorityMedium},
		{EventTypeCreate, PriorityMedium},
		{EventTypeRelease, PriorityMedium},
		{EventTypeFork, PriorityMedium},
		{EventTypeWatch, PriorityLow},
		{EventTypeStar, PriorityLow},
		{EventType("SomeFutureEvent"), PriorityLow},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			if got := PriorityFor(tt.eventType); got != tt.want {
				t.Errorf("PriorityFor(%s) = %s, want %s", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestSkippable(t *testing.T) {
	if !Skippable(EventTypeIssueComment) {
		t.Error("comment events must be skippable")
	}
	if Skippable(EventTypePush) {
		t.Error("push events must never be skippable")
	}
}

func TestEventValidate(t *testing.T) {
	valid := Event{
		ID:        "123",
		Type:      EventTypePush,
		Actor:     Actor{ID: 1, Login: "alice"},
		Repo:      Repository{ID: 2, FullName: "acme/widgets"},
		CreatedAt: time.Now(),
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"valid", func(e *Event) {}, false},
		{"missing id", func(e *Event) { e.ID = "" }, true},
		{"missing type", func(e *Event) { e.Type = "" }, true},
		{"missing actor", func(e *Event) { e.Actor = Actor{} }, true},
		{"missing repo", func(e *Event) { e.Repo = Repository{} }, true},
		{"zero timestamp", func(e *Event) { e.CreatedAt = time.Time{} }, true},
		{"actor id only", func(e *Event) { e.Actor = Actor{ID: 42} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeverityFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.0, SeverityInfo},
		{0.14, SeverityInfo},
		{0.15, SeverityLow},
		{0.34, SeverityLow},
		{0.35, SeverityMedium},
		{0.64, SeverityMedium},
		{0.65, SeverityHigh},
		{0.84, SeverityHigh},
		{0.85, SeverityCritical},
		{1.0, SeverityCritical},
	}

	for _, tt := range tests {
		if got := SeverityFromScore(tt.score); got != tt.want {
			t.Errorf("SeverityFromScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestActorAndRepoKeys(t *testing.T) {
	e := Event{Actor: Actor{ID: 99}, Repo: Repository{ID: 7}}
	if got := e.ActorKey(); got != "99" {
		t.Errorf("ActorKey() = %q, want 99", got)
	}
	e.Actor.Login = "alice"
	if got := e.ActorKey(); got != "alice" {
		t.Errorf("ActorKey() = %q, want alice", got)
	}
	if got := e.RepoKey(); got != "7" {
		t.Errorf("RepoKey() = %q, want 7", got)
	}
}
