// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"github.com/streamwarden/streamwarden/internal/models"
)

// Fusion weights over the three anomaly signals. Repository criticality is
// a multiplier, not a weighted term.
const (
	WeightBehavioral = 0.35
	WeightTemporal   = 0.30
	WeightContent    = 0.35

	// CriticalityGain scales the multiplier: final = base * (1 + gain*r).
	CriticalityGain = 0.5
)

// Fusion is the combined scoring output for one event.
type Fusion struct {
	Behavioral  float64         `json:"behavioral"`
	Temporal    float64         `json:"temporal"`
	Content     float64         `json:"content"`
	Criticality float64         `json:"repository_criticality"`
	Base        float64         `json:"base"`
	Final       float64         `json:"final"`
	Severity    models.Severity `json:"severity"`
	Primary     string          `json:"primary_method"`
}

// Fuse combines component scores into the final anomaly score:
//
//	base  = 0.35*b + 0.30*t + 0.35*c
//	final = clip(base * (1 + 0.5*r), 0, 1)
//
// All inputs are clipped to [0,1] first, so the result respects the score
// range invariant regardless of detector behavior.
func Fuse(behavioral, temporal, content, criticality float64) Fusion {
	b := clip(behavioral, 0, 1)
	t := clip(temporal, 0, 1)
	c := clip(content, 0, 1)
	r := clip(criticality, 0, 1)

	base := WeightBehavioral*b + WeightTemporal*t + WeightContent*c
	final := clip(base*(1+CriticalityGain*r), 0, 1)

	return Fusion{
		Behavioral:  b,
		Temporal:    t,
		Content:     c,
		Criticality: r,
		Base:        base,
		Final:       final,
		Severity:    models.SeverityFromScore(final),
		Primary:     primaryMethod(b, t, c),
	}
}

// primaryMethod picks the detector with the largest weighted contribution.
// Ties break in order content > temporal > behavioral.
func primaryMethod(b, t, c float64) string {
	wc := WeightContent * c
	wt := WeightTemporal * t
	wb := WeightBehavioral * b

	switch {
	case wc >= wt && wc >= wb:
		return NameContent
	case wt >= wb:
		return NameTemporal
	default:
		return NameBehavioral
	}
}
