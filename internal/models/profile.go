// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"time"
)

// FeatureCount is the dimensionality of the behavioral feature vector.
const FeatureCount = 10

// BehavioralFeatureNames labels each dimension of the feature vector, in
// index order.
var BehavioralFeatureNames = [FeatureCount]string{
	"events_per_hour",
	"repository_diversity_ratio",
	"avg_inter_event_interval_minutes",
	"commit_message_length_avg",
	"files_changed_per_commit_avg",
	"activity_burst_score",
	"time_spread_hours",
	"event_type_entropy",
	"weekend_activity_ratio",
	"off_hours_activity_ratio",
}

// VarianceFloor is the minimum per-dimension variance. Variances are
// floored here so z-scores stay finite even for near-constant features.
const VarianceFloor = 1e-6

// UserProfile is the per-actor behavioral baseline. Mean and variance are
// maintained by EWMA and never recomputed from scratch in the hot path; the
// covariance matrix feeds the multivariate test once SampleCount reaches the
// readiness threshold. Its inverse is rebuilt lazily by the detector and is
// not persisted.
type UserProfile struct {
	ActorKey    string                     `json:"actor_key"`
	Mean        [FeatureCount]float64      `json:"mean"`
	Variance    [FeatureCount]float64      `json:"variance"`
	Covariance  [FeatureCount][FeatureCount]float64 `json:"covariance"`
	SampleCount int64                      `json:"sample_count"`
	TypeCounts  map[string]int64           `json:"type_counts,omitempty"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// NewUserProfile creates an empty cold-start profile for an actor.
func NewUserProfile(actorKey string) *UserProfile {
	p := &UserProfile{
		ActorKey:   actorKey,
		TypeCounts: make(map[string]int64),
	}
	for i := range p.Variance {
		p.Variance[i] = VarianceFloor
	}
	return p
}

// ApplyEWMA folds a new observation into the baseline:
//
//	mu'    = alpha*x + (1-alpha)*mu
//	sigma' = alpha*(x-mu')^2 + (1-alpha)*sigma
//
// with the variance floored at VarianceFloor. SampleCount increases by
// exactly one per observation. The covariance estimate is updated with the
// same decay so the multivariate test tracks the same horizon.
func (p *UserProfile) ApplyEWMA(x [FeatureCount]float64, alpha float64, eventType EventType, ts time.Time) {
	if p.SampleCount == 0 {
		// Seed from the first observation so early z-scores are not
		// measured against an all-zero mean.
		p.Mean = x
		for i := range p.Variance {
			p.Variance[i] = VarianceFloor
		}
	} else {
		var diff [FeatureCount]float64
		for i := 0; i < FeatureCount; i++ {
			p.Mean[i] = alpha*x[i] + (1-alpha)*p.Mean[i]
			diff[i] = x[i] - p.Mean[i]
		}
		for i := 0; i < FeatureCount; i++ {
			v := alpha*diff[i]*diff[i] + (1-alpha)*p.Variance[i]
			if v < VarianceFloor {
				v = VarianceFloor
			}
			p.Variance[i] = v
		}
		for i := 0; i < FeatureCount; i++ {
			for j := 0; j < FeatureCount; j++ {
				p.Covariance[i][j] = alpha*diff[i]*diff[j] + (1-alpha)*p.Covariance[i][j]
			}
		}
	}

	p.SampleCount++
	if p.TypeCounts == nil {
		p.TypeCounts = make(map[string]int64)
	}
	p.TypeCounts[string(eventType)]++
	p.UpdatedAt = ts
}

// TypeShare returns the fraction of the actor's observed events that carry
// the given type. Used by the pre-filter to skip trivially-normal events.
func (p *UserProfile) TypeShare(t EventType) float64 {
	if p.SampleCount == 0 {
		return 0
	}
	return float64(p.TypeCounts[string(t)]) / float64(p.SampleCount)
}

// RepoProfile is the per-repository baseline.
type RepoProfile struct {
	RepoKey          string    `json:"repo_key"`
	EventsPerHour    float64   `json:"events_per_hour"` // EWMA
	ContributorCount int       `json:"contributor_count"`
	Contributors     []string  `json:"contributors,omitempty"` // bounded recent set
	Criticality      float64   `json:"criticality"`
	CriticalityTTL   time.Time `json:"criticality_ttl"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	EventCount       int64     `json:"event_count"`
}

// maxTrackedContributors bounds the recent-contributor set per repo.
const maxTrackedContributors = 256

// NewRepoProfile creates an empty repository profile.
func NewRepoProfile(repoKey string, now time.Time) *RepoProfile {
	return &RepoProfile{
		RepoKey:   repoKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch folds an event at ts into the repo's rate estimate and contributor
// set. The events/hour EWMA decays by the gap since the previous event.
func (p *RepoProfile) Touch(actorKey string, ts time.Time, alpha float64) {
	if p.EventCount > 0 && ts.After(p.UpdatedAt) {
		gapHours := ts.Sub(p.UpdatedAt).Hours()
		if gapHours > 0 {
			instRate := 1.0 / gapHours
			p.EventsPerHour = alpha*instRate + (1-alpha)*p.EventsPerHour
		}
	} else if p.EventCount == 0 {
		p.EventsPerHour = 1
	}

	if !containsString(p.Contributors, actorKey) {
		if len(p.Contributors) >= maxTrackedContributors {
			p.Contributors = p.Contributors[1:]
		}
		p.Contributors = append(p.Contributors, actorKey)
	}
	p.ContributorCount = len(p.Contributors)
	p.EventCount++
	if ts.After(p.UpdatedAt) {
		p.UpdatedAt = ts
	}
}

// CriticalityValid reports whether the cached criticality is still fresh.
func (p *RepoProfile) CriticalityValid(now time.Time) bool {
	return !p.CriticalityTTL.IsZero() && now.Before(p.CriticalityTTL)
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
