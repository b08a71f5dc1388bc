// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"context"
	"math"
	"time"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/models"
)

// Behavioral statistical thresholds.
const (
	zScoreThreshold = 3.0
	zSeveritySlope  = 5.0
)

// BehavioralDetector scores events against the actor's EWMA baseline.
//
// Warm path (sample count >= warm_n): per-dimension z-scores with a
// multivariate Mahalanobis test once the covariance estimate is ready.
// Cold path: tiered heuristics on the raw feature values.
type BehavioralDetector struct {
	cfg config.DetectorConfig
}

// NewBehavioralDetector creates the behavioral detector.
func NewBehavioralDetector(cfg config.DetectorConfig) *BehavioralDetector {
	return &BehavioralDetector{cfg: cfg}
}

// Name implements Detector.
func (d *BehavioralDetector) Name() string { return NameBehavioral }

// Detect implements Detector.
func (d *BehavioralDetector) Detect(ctx context.Context, in *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := ExtractBehavioralFeatures(in.History, in.Event.ActorKey(), in.Event.CreatedAt)

	result := &Result{
		Features:     features[:],
		FeatureNames: models.BehavioralFeatureNames[:],
		Detail:       map[string]any{},
	}

	if in.User == nil || in.User.SampleCount < d.cfg.WarmN {
		d.coldStart(result, features)
		result.Detail["analysis_type"] = "cold_start_heuristic"
		if in.User != nil {
			result.Detail["sample_count"] = in.User.SampleCount
		}
		return result, nil
	}

	d.warmPath(result, features, in.User)
	result.Detail["analysis_type"] = "statistical_baseline"
	result.Detail["sample_count"] = in.User.SampleCount
	return result, nil
}

// warmPath applies z-score and multivariate tests against the baseline.
func (d *BehavioralDetector) warmPath(result *Result, x [models.FeatureCount]float64, user *models.UserProfile) {
	maxSeverity := 0.0

	for i := 0; i < models.FeatureCount; i++ {
		sd := math.Sqrt(user.Variance[i])
		if sd <= 0 {
			sd = math.Sqrt(models.VarianceFloor)
		}
		z := (x[i] - user.Mean[i]) / sd
		if math.Abs(z) < zScoreThreshold {
			continue
		}
		severity := clip((math.Abs(z)-zScoreThreshold)/zSeveritySlope, 0, 1)
		result.Anomalies = append(result.Anomalies, Anomaly{
			Type:        "statistical_deviation",
			FeatureName: models.BehavioralFeatureNames[i],
			Current:     x[i],
			ZScore:      z,
			Severity:    severity,
		})
		if severity > maxSeverity {
			maxSeverity = severity
		}
	}

	if user.SampleCount >= d.cfg.MVNN {
		if inv, ok := invertCovariance(user.Covariance); ok {
			d2 := mahalanobisSquared(x, user.Mean, inv)
			result.Detail["mahalanobis_sq"] = d2
			if d2 >= chiSquareCritical10 {
				severity := clip(d2/chiSquareCritical10-1, 0, 1)
				result.Anomalies = append(result.Anomalies, Anomaly{
					Type:     "multivariate_anomaly",
					Current:  math.Sqrt(d2),
					Severity: severity,
				})
				if severity > maxSeverity {
					maxSeverity = severity
				}
			}
		}
	}

	result.Score = maxSeverity
}

// coldStart applies tiered heuristics while the baseline is immature.
func (d *BehavioralDetector) coldStart(result *Result, x [models.FeatureCount]float64) {
	score := 0.0
	flag := func(anomalyType, feature string, value, severity float64) {
		result.Anomalies = append(result.Anomalies, Anomaly{
			Type:        anomalyType,
			FeatureName: feature,
			Current:     value,
			Severity:    severity,
		})
		if severity > score {
			score = severity
		}
	}

	eventsPerHour := x[0]
	switch {
	case eventsPerHour >= 100:
		flag("extreme_event_rate", "events_per_hour", eventsPerHour, 0.9)
	case eventsPerHour >= 50:
		flag("very_high_event_rate", "events_per_hour", eventsPerHour, 0.7)
	case eventsPerHour >= 20:
		flag("high_event_rate", "events_per_hour", eventsPerHour, 0.5)
	}

	if x[7] == 0 && eventsPerHour >= 10 {
		flag("monotype_activity", "event_type_entropy", x[7], 0.6)
	}

	if x[5] >= 0.7 {
		flag("burst_activity", "activity_burst_score", x[5], clip(x[5], 0, 1)*0.8)
	}

	result.Score = score
}

// ExtractBehavioralFeatures builds the 10-dimension feature vector for an
// actor at time t from the in-memory history (which already includes the
// current event).
func ExtractBehavioralFeatures(history *History, actorKey string, t time.Time) [models.FeatureCount]float64 {
	var features [models.FeatureCount]float64

	hourEvents := history.ActorEvents(actorKey, t.Add(-time.Hour))
	dayEvents := history.ActorEvents(actorKey, t.Add(-24*time.Hour))
	if len(hourEvents) == 0 {
		return features
	}

	// 0: events in the trailing hour.
	features[0] = float64(len(hourEvents))

	// 1: repository diversity ratio.
	repos := make(map[string]struct{}, len(hourEvents))
	typeCounts := make(map[models.EventType]int, 8)
	commitMsgLen, commitCount := 0, 0
	filesChanged, pushCount := 0, 0
	for _, e := range hourEvents {
		repos[e.RepoKey] = struct{}{}
		typeCounts[e.Type]++
		if e.Type == models.EventTypePush {
			commitMsgLen += e.CommitMsgLen
			commitCount += e.CommitCount
			filesChanged += e.FilesChanged
			pushCount++
		}
	}
	features[1] = float64(len(repos)) / float64(len(hourEvents))

	// 2: mean inter-event gap in minutes.
	if len(hourEvents) > 1 {
		totalGap := hourEvents[len(hourEvents)-1].Time.Sub(hourEvents[0].Time)
		features[2] = totalGap.Minutes() / float64(len(hourEvents)-1)
	}

	// 3: mean commit message length across pushes.
	if commitCount > 0 {
		features[3] = float64(commitMsgLen) / float64(commitCount)
	}

	// 4: mean files changed per commit.
	if commitCount > 0 {
		features[4] = float64(filesChanged) / float64(commitCount)
	}

	// 5: burst score over the trailing 5 minutes, reduced to [0,1] with
	// the same slope as the temporal burst rule.
	burstEvents := 0
	for _, e := range hourEvents {
		if !e.Time.Before(t.Add(-5 * time.Minute)) {
			burstEvents++
		}
	}
	burstRate := float64(burstEvents) / 5.0
	features[5] = clip((burstRate-2)/8, 0, 1)

	// 6: time spread of the hour window.
	features[6] = hourEvents[len(hourEvents)-1].Time.Sub(hourEvents[0].Time).Hours()

	// 7: event type entropy (nats).
	features[7] = shannonEntropy(typeCounts, len(hourEvents))

	// 8, 9: weekend and off-hours shares over the trailing 24h, in UTC
	// when the actor's zone is unknown (always, for the public feed).
	if len(dayEvents) > 0 {
		weekend, offHours := 0, 0
		for _, e := range dayEvents {
			utc := e.Time.UTC()
			if wd := utc.Weekday(); wd == time.Saturday || wd == time.Sunday {
				weekend++
			}
			if h := utc.Hour(); h < 9 || h >= 18 {
				offHours++
			}
		}
		features[8] = float64(weekend) / float64(len(dayEvents))
		features[9] = float64(offHours) / float64(len(dayEvents))
	}

	for i := range features {
		if math.IsNaN(features[i]) || math.IsInf(features[i], 0) {
			features[i] = 0
		}
	}
	return features
}
