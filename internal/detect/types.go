// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package detect implements the four anomaly detectors and the score fuser.
// Detectors are pure functions over (event, profiles, recent history): they
// never mutate shared state and never propagate errors upward as failures;
// the stream processor converts errors and timeouts into degraded results.
package detect

import (
	"context"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// Detector names, used in metrics, explanations, and the primary-method
// label.
const (
	NameBehavioral = "behavioral"
	NameTemporal   = "temporal"
	NameContent    = "content"
	NameContextual = "contextual"
)

// Input is everything a detector may read for one event. Profiles are
// snapshots taken before detector launch; detectors must not mutate them.
type Input struct {
	Event *models.Event
	User  *models.UserProfile
	Repo  *models.RepoProfile

	// History holds recent in-memory event windows for the actor and
	// repository, already including the current event.
	History *History

	// Now anchors all window computations, normally the event timestamp's
	// processing time.
	Now time.Time
}

// Anomaly is one per-dimension or per-rule finding inside a detector
// result.
type Anomaly struct {
	Type        string  `json:"type"`
	FeatureName string  `json:"feature_name,omitempty"`
	Current     float64 `json:"current"`
	ZScore      float64 `json:"z_score,omitempty"`
	Severity    float64 `json:"severity"`
	Location    string  `json:"location,omitempty"`
	Match       string  `json:"match,omitempty"`
}

// Result is a detector's output for one event.
type Result struct {
	Score        float64                  `json:"score"`
	Features     []float64                `json:"features,omitempty"`
	FeatureNames []string                 `json:"feature_names,omitempty"`
	Anomalies    []Anomaly                `json:"anomalies,omitempty"`
	Patterns     []models.TemporalPattern `json:"patterns,omitempty"`
	Detail       map[string]any           `json:"detail,omitempty"`

	// Degraded marks results produced after an internal error; TimedOut
	// marks results synthesized after a deadline. Both contribute score 0.
	Degraded bool `json:"degraded,omitempty"`
	TimedOut bool `json:"timeout,omitempty"`
}

// Detector evaluates one event against a baseline.
type Detector interface {
	// Name returns the detector's stable identifier.
	Name() string

	// Detect scores the event. Errors are isolated by the caller; a
	// non-nil error means the result should be treated as degraded.
	Detect(ctx context.Context, in *Input) (*Result, error)
}

// DegradedResult builds the zero-score result recorded when a detector
// errored or timed out.
func DegradedResult(timedOut bool, reason string) *Result {
	detail := map[string]any{"degraded": true}
	if reason != "" {
		detail["reason"] = reason
	}
	if timedOut {
		detail["reason"] = "timeout"
	}
	return &Result{
		Score:    0,
		Detail:   detail,
		Degraded: true,
		TimedOut: timedOut,
	}
}

// clip bounds v to [lo, hi].
func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
