// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

// contextualFeatureNames labels the repository context vector.
var contextualFeatureNames = []string{
	"repository_criticality",
	"stars_normalized",
	"forks_normalized",
	"contributors_normalized",
	"recent_activity",
	"security_policy",
	"protected_branches",
	"dependency_risk",
	"popularity_momentum",
}

// Criticality level thresholds.
const (
	criticalityHigh     = 0.8
	criticalityMedium   = 0.6
	criticalityLow      = 0.4
	defaultDependencyRisk = 0.5
)

// productionNameHints flag repositories whose names suggest operational
// impact.
var productionNameHints = []string{"prod", "production", "live", "release", "deploy", "infra"}

// ContextualDetector scores repository criticality. Unlike the other
// three detectors it does not produce an independent anomaly signal: its
// score is the criticality multiplier input to the fuser.
//
// The public event feed carries no star or fork counts, so criticality is
// estimated from what the pipeline observes: activity rate, contributor
// breadth, repository age, and name signals. The estimate is cached on the
// repo profile with a TTL.
type ContextualDetector struct {
	criticalityTTL time.Duration
}

// NewContextualDetector creates the contextual detector.
func NewContextualDetector(criticalityTTL time.Duration) *ContextualDetector {
	return &ContextualDetector{criticalityTTL: criticalityTTL}
}

// Name implements Detector.
func (d *ContextualDetector) Name() string { return NameContextual }

// Detect implements Detector.
func (d *ContextualDetector) Detect(ctx context.Context, in *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := make([]float64, len(contextualFeatureNames))
	var criticality float64

	if in.Repo != nil && in.Repo.CriticalityValid(in.Now) {
		criticality = in.Repo.Criticality
	} else {
		criticality = EstimateCriticality(in.Repo, in.Event.RepoKey(), in.Now)
	}
	criticality = clip(criticality, 0, 1)

	features[0] = criticality
	if in.Repo != nil {
		features[3] = clip(math.Log10(float64(in.Repo.ContributorCount)+1)/3, 0, 1)
		features[4] = clip(in.Repo.EventsPerHour/100, 0, 1)
		features[8] = popularityMomentum(in.Repo)
	}
	// Stars, forks, security policy, and branch protection are not visible
	// on the public feed; the dims stay at their unknown defaults so the
	// explanation vector keeps its shape.
	features[6] = clip(criticality*0.5, 0, 1)
	features[7] = defaultDependencyRisk

	return &Result{
		Score:        criticality,
		Features:     features,
		FeatureNames: contextualFeatureNames,
		Detail: map[string]any{
			"criticality_level": CriticalityLevel(criticality),
			"cached":            in.Repo != nil && in.Repo.CriticalityValid(in.Now),
		},
	}, nil
}

// EstimateCriticality computes the criticality estimate for a repository
// from its observed profile.
func EstimateCriticality(repo *models.RepoProfile, repoKey string, now time.Time) float64 {
	score := 0.1 // every public repo carries some baseline exposure

	name := strings.ToLower(repoKey)
	for _, hint := range productionNameHints {
		if strings.Contains(name, hint) {
			score += 0.2
			break
		}
	}

	if repo == nil {
		return clip(score, 0, 1)
	}

	// Busy repos matter more.
	score += 0.3 * clip(repo.EventsPerHour/50, 0, 1)

	// Breadth of contributors approximates installed-base importance.
	score += 0.3 * clip(math.Log10(float64(repo.ContributorCount)+1)/2.5, 0, 1)

	// Long-lived repos with sustained activity outrank fresh ones.
	if !repo.CreatedAt.IsZero() {
		ageDays := now.Sub(repo.CreatedAt).Hours() / 24
		score += 0.1 * clip(ageDays/365, 0, 1)
	}

	return clip(score, 0, 1)
}

// CriticalityLevel buckets a criticality score into a qualitative label.
func CriticalityLevel(c float64) string {
	switch {
	case c >= criticalityHigh:
		return "critical"
	case c >= criticalityMedium:
		return "high"
	case c >= criticalityLow:
		return "medium"
	default:
		return "low"
	}
}

// popularityMomentum reports whether the repo's activity is accelerating
// relative to its lifetime average, in [0,1].
func popularityMomentum(repo *models.RepoProfile) float64 {
	if repo.EventCount == 0 || repo.CreatedAt.IsZero() {
		return 0
	}
	lifetimeHours := repo.UpdatedAt.Sub(repo.CreatedAt).Hours()
	if lifetimeHours <= 0 {
		return 0
	}
	lifetimeRate := float64(repo.EventCount) / lifetimeHours
	if lifetimeRate <= 0 {
		return 0
	}
	return clip(repo.EventsPerHour/lifetimeRate/10, 0, 1)
}
