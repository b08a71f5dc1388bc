// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package models defines the canonical data types flowing through the
// pipeline: upstream events with typed payload variants, behavioral
// profiles, anomaly records, and severity levels.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EventType tags an upstream event. The set is closed for classification
// purposes; unknown types map to priority low and an opaque payload.
type EventType string

const (
	EventTypePush              EventType = "PushEvent"
	EventTypeWorkflowRun       EventType = "WorkflowRunEvent"
	EventTypeDelete            EventType = "DeleteEvent"
	EventTypeMember            EventType = "MemberEvent"
	EventTypePullRequest       EventType = "PullRequestEvent"
	EventTypeIssues            EventType = "IssuesEvent"
	EventTypeCreate            EventType = "CreateEvent"
	EventTypeRelease           EventType = "ReleaseEvent"
	EventTypeFork              EventType = "ForkEvent"
	EventTypeWatch             EventType = "WatchEvent"
	EventTypeStar              EventType = "StarEvent"
	EventTypeGollum            EventType = "GollumEvent"
	EventTypeFollow            EventType = "FollowEvent"
	EventTypeCommitComment     EventType = "CommitCommentEvent"
	EventTypeIssueComment      EventType = "IssueCommentEvent"
	EventTypePRReview          EventType = "PullRequestReviewEvent"
	EventTypePRReviewComment   EventType = "PullRequestReviewCommentEvent"
)

// Priority classifies how much an event type matters to detection.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityFor returns the ingestion priority for an event type.
// High-priority types carry the strongest security signal and are never
// dropped or sampled; everything outside the known medium set is low.
func PriorityFor(t EventType) Priority {
	switch t {
	case EventTypePush, EventTypeWorkflowRun, EventTypeDelete, EventTypeMember:
		return PriorityHigh
	case EventTypePullRequest, EventTypeIssues, EventTypeCreate, EventTypeRelease, EventTypeFork:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Skippable reports whether an event type is dropped outright before
// classification. Comment and review traffic is too noisy to carry signal
// for this pipeline.
func Skippable(t EventType) bool {
	switch t {
	case EventTypeFollow, EventTypeGollum, EventTypeCommitComment,
		EventTypeIssueComment, EventTypePRReview, EventTypePRReviewComment:
		return true
	}
	return false
}

// Actor identifies the user that produced an event.
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Repository identifies the repository an event targets.
type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"name"`
}

// Event is an immutable record from the upstream activity stream. The
// payload stays opaque (raw JSON) except for the fields detectors consume,
// which are decoded on demand through the typed accessors below.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Actor     Actor           `json:"actor"`
	Repo      Repository      `json:"repo"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  Priority        `json:"priority,omitempty"`
}

// Validate checks the fields every pipeline stage relies on. Events failing
// validation are counted as corrupt and dropped.
func (e *Event) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Message: "required"}
	}
	if e.Actor.Login == "" && e.Actor.ID == 0 {
		return &ValidationError{Field: "actor", Message: "required"}
	}
	if e.Repo.FullName == "" && e.Repo.ID == 0 {
		return &ValidationError{Field: "repo", Message: "required"}
	}
	if e.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Message: "malformed timestamp"}
	}
	return nil
}

// ActorKey returns the lane/profile key for the event's actor.
func (e *Event) ActorKey() string {
	if e.Actor.Login != "" {
		return e.Actor.Login
	}
	return formatInt64(e.Actor.ID)
}

// RepoKey returns the profile key for the event's repository.
func (e *Event) RepoKey() string {
	if e.Repo.FullName != "" {
		return e.Repo.FullName
	}
	return formatInt64(e.Repo.ID)
}

// ValidationError reports a missing or malformed event field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func formatInt64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	digits := make([]byte, 0, 20)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	if neg {
		digits = append(digits, '-')
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
