// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/models"
)

// temporalFeatureNames labels the temporal feature vector, in index order.
var temporalFeatureNames = []string{
	"events_per_minute_current",
	"baseline_rate_ratio",
	"burst_intensity",
	"inter_event_regularity",
	"coordination_score",
	"off_hours_intensity_ratio",
	"weekend_activity_ratio",
	"time_concentration",
	"velocity_acceleration",
}

// unusualTimingMinMass is the minimum histogram mass before the chi-square
// timing test is attempted.
const unusualTimingMinMass = 48.0

// TemporalDetector finds suprathreshold rates, coordinated multi-actor
// activity, and unusual timing distributions.
type TemporalDetector struct {
	cfg config.DetectorConfig
}

// NewTemporalDetector creates the temporal detector.
func NewTemporalDetector(cfg config.DetectorConfig) *TemporalDetector {
	return &TemporalDetector{cfg: cfg}
}

// Name implements Detector.
func (d *TemporalDetector) Name() string { return NameTemporal }

// Detect implements Detector.
func (d *TemporalDetector) Detect(ctx context.Context, in *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := in.Event.CreatedAt
	actorKey := in.Event.ActorKey()
	repoKey := in.Event.RepoKey()

	result := &Result{
		FeatureNames: temporalFeatureNames,
		Detail:       map[string]any{},
	}
	features := make([]float64, len(temporalFeatureNames))

	actorRepoEvents := d.actorRepoEvents(in.History, actorKey, repoKey, t)
	hourEvents := in.History.ActorEvents(actorKey, t.Add(-time.Hour))

	// The burst rule looks at all of the actor's activity inside the
	// sliding window, regardless of repository. A tight cluster is
	// measured over its actual span, not the full window: 12 events in 90
	// seconds is 8/min, not 2.4/min.
	burstCount := 0
	var burstStart, burstEnd time.Time
	for _, e := range hourEvents {
		if !e.Time.Before(t.Add(-d.cfg.BurstWindow)) {
			if burstCount == 0 || e.Time.Before(burstStart) {
				burstStart = e.Time
			}
			if e.Time.After(burstEnd) {
				burstEnd = e.Time
			}
			burstCount++
		}
	}
	windowMinutes := d.cfg.BurstWindow.Minutes()
	if burstCount > 1 {
		span := burstEnd.Sub(burstStart).Minutes()
		if span > 0 && span < windowMinutes {
			windowMinutes = span
		}
	}
	burstRate := float64(burstCount) / windowMinutes

	// Feature 0: current events/min for this (actor, repo).
	repoCount := 0
	for _, e := range actorRepoEvents {
		if !e.Time.Before(t.Add(-d.cfg.BurstWindow)) {
			repoCount++
		}
	}
	currentRate := float64(repoCount) / d.cfg.BurstWindow.Minutes()
	features[0] = currentRate

	// Feature 1: ratio vs the actor's baseline hourly rate.
	if in.User != nil && in.User.SampleCount > 0 && in.User.Mean[0] > 0 {
		baselinePerMin := in.User.Mean[0] / 60
		if baselinePerMin > 0 {
			features[1] = currentRate / baselinePerMin
		}
	}

	maxSeverity := 0.0

	// Burst pattern.
	if burstCount >= d.cfg.BurstMinCount && burstRate >= d.cfg.BurstMinRate {
		severity := clip((burstRate-d.cfg.BurstMinRate)/8, 0, 1)
		features[2] = severity
		result.Patterns = append(result.Patterns, models.TemporalPattern{
			Type:        "activity_burst",
			Severity:    severity,
			ActorKey:    actorKey,
			WindowStart: t.Add(-d.cfg.BurstWindow),
			WindowEnd:   t,
			EventCount:  burstCount,
			Detail:      fmt.Sprintf("%.1f events/min over %d events", burstRate, burstCount),
		})
		if severity > maxSeverity {
			maxSeverity = severity
		}
	}

	// Feature 3: inter-event regularity. Highly regular gaps look
	// scripted; the score is 1 - cv (coefficient of variation), floored
	// at zero.
	if len(hourEvents) >= 3 {
		features[3] = regularityScore(hourEvents)
	}

	// Coordinated activity across all actors in the repo.
	coordEvents, coordActors := in.History.RepoActivity(repoKey)
	if coordActors >= d.cfg.CoordMinActors && coordEvents >= d.cfg.CoordMinEvents {
		severity := clip(float64(coordActors)/10, 0, 1)
		features[4] = severity
		result.Patterns = append(result.Patterns, models.TemporalPattern{
			Type:        "coordinated_activity",
			Severity:    severity,
			RepoKey:     repoKey,
			WindowStart: t.Add(-d.cfg.CoordWindow),
			WindowEnd:   t,
			EventCount:  coordEvents,
			ActorCount:  coordActors,
			Detail:      fmt.Sprintf("%d actors, %d events", coordActors, coordEvents),
		})
		if severity > maxSeverity {
			maxSeverity = severity
		}
	}

	// Unusual timing: chi-square goodness of fit of the actor's hourly
	// distribution against uniform.
	counts, total := in.History.HourHistogram(actorKey)
	if total >= unusualTimingMinMass {
		statistic := 0.0
		expected := total / 24
		for _, c := range counts {
			diff := c - expected
			statistic += diff * diff / expected
		}
		p := chiSquarePValue(statistic, 23)
		result.Detail["timing_chi2"] = statistic
		result.Detail["timing_p"] = p
		if p < 0.01 {
			severity := clip(-math.Log10(p)/6, 0, 1)
			result.Patterns = append(result.Patterns, models.TemporalPattern{
				Type:        "unusual_timing",
				Severity:    severity,
				ActorKey:    actorKey,
				WindowStart: t.Add(-7 * 24 * time.Hour),
				WindowEnd:   t,
				EventCount:  int(total),
				Detail:      fmt.Sprintf("chi2=%.1f p=%.2g", statistic, p),
			})
			if severity > maxSeverity {
				maxSeverity = severity
			}
		}
	}

	// Off-hours and weekend shares mirror the behavioral dims for the
	// explanation vector.
	dayEvents := in.History.ActorEvents(actorKey, t.Add(-24*time.Hour))
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
		features[5] = float64(offHours) / float64(len(dayEvents))
		features[6] = float64(weekend) / float64(len(dayEvents))
	}

	// Feature 7: time concentration, share of the hour's events landing in
	// the burst window.
	if len(hourEvents) > 0 {
		features[7] = float64(burstCount) / float64(len(hourEvents))
	}

	// Velocity acceleration: rate over the last burst window vs the
	// window before it.
	lastRate, prevRate := d.windowRates(actorRepoEvents, t)
	if prevRate > 0 {
		features[8] = lastRate / prevRate
	}
	if lastRate >= 3*prevRate && lastRate >= 0.5 && prevRate >= 0.5 {
		const severity = 0.6
		result.Patterns = append(result.Patterns, models.TemporalPattern{
			Type:        "velocity_acceleration",
			Severity:    severity,
			ActorKey:    actorKey,
			RepoKey:     repoKey,
			WindowStart: t.Add(-2 * d.cfg.BurstWindow),
			WindowEnd:   t,
			EventCount:  burstCount,
			Detail:      fmt.Sprintf("rate %.2f/min vs %.2f/min", lastRate, prevRate),
		})
		if severity > maxSeverity {
			maxSeverity = severity
		}
	}

	result.Features = features
	result.Score = maxSeverity
	return result, nil
}

// actorRepoEvents filters the actor window to the event's repository.
func (d *TemporalDetector) actorRepoEvents(history *History, actorKey, repoKey string, t time.Time) []ActorEvent {
	all := history.ActorEvents(actorKey, t.Add(-2*d.cfg.BurstWindow))
	out := all[:0:0]
	for _, e := range all {
		if e.RepoKey == repoKey {
			out = append(out, e)
		}
	}
	return out
}

// windowRates returns events/min over [t-w, t] and [t-2w, t-w).
func (d *TemporalDetector) windowRates(events []ActorEvent, t time.Time) (last, prev float64) {
	w := d.cfg.BurstWindow
	lastCount, prevCount := 0, 0
	for _, e := range events {
		switch {
		case !e.Time.Before(t.Add(-w)):
			lastCount++
		case !e.Time.Before(t.Add(-2 * w)):
			prevCount++
		}
	}
	minutes := w.Minutes()
	return float64(lastCount) / minutes, float64(prevCount) / minutes
}

// regularityScore measures how mechanical the actor's cadence is: 1 means
// perfectly even gaps, 0 means organic spread.
func regularityScore(events []ActorEvent) float64 {
	gaps := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, events[i].Time.Sub(events[i-1].Time).Seconds())
	}
	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean <= 0 {
		return 0
	}
	variance := 0.0
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))
	cv := math.Sqrt(variance) / mean
	return clip(1-cv, 0, 1)
}
