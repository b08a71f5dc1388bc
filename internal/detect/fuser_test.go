// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"math"
	"testing"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestFuseFormula(t *testing.T) {
	f := Fuse(0, 0, 0.8, 0.5)

	// base = 0.35*0.8 = 0.28, final = 0.28 * 1.25 = 0.35
	if math.Abs(f.Base-0.28) > 1e-9 {
		t.Errorf("Base = %v, want 0.28", f.Base)
	}
	if math.Abs(f.Final-0.35) > 1e-9 {
		t.Errorf("Final = %v, want 0.35", f.Final)
	}
	if f.Severity != models.SeverityMedium {
		t.Errorf("Severity = %s, want MEDIUM", f.Severity)
	}
	if f.Primary != NameContent {
		t.Errorf("Primary = %s, want content", f.Primary)
	}
}

func TestFuseZeroCriticalityEqualsBase(t *testing.T) {
	f := Fuse(0.4, 0.6, 0.2, 0)
	if f.Final != f.Base {
		t.Errorf("final = %v, base = %v; must be equal when r = 0", f.Final, f.Base)
	}
}

func TestFuseCriticalityNeverDecreases(t *testing.T) {
	for _, r := range []float64{0.1, 0.5, 0.9, 1.0} {
		f := Fuse(0.3, 0.3, 0.3, r)
		if f.Final < f.Base {
			t.Errorf("r=%v: final %v < base %v", r, f.Final, f.Base)
		}
	}
}

func TestFuseMonotoneInEachComponent(t *testing.T) {
	base := Fuse(0.2, 0.2, 0.2, 0.5)

	if f := Fuse(0.4, 0.2, 0.2, 0.5); f.Final < base.Final {
		t.Error("final must be monotone in behavioral")
	}
	if f := Fuse(0.2, 0.4, 0.2, 0.5); f.Final < base.Final {
		t.Error("final must be monotone in temporal")
	}
	if f := Fuse(0.2, 0.2, 0.4, 0.5); f.Final < base.Final {
		t.Error("final must be monotone in content")
	}
}

func TestFuseScoreRange(t *testing.T) {
	inputs := [][4]float64{
		{0, 0, 0, 0},
		{1, 1, 1, 1},
		{2, -1, 0.5, 3},   // out-of-range inputs are clipped
		{0.9, 0.9, 0.9, 1},
	}
	for _, in := range inputs {
		f := Fuse(in[0], in[1], in[2], in[3])
		if f.Final < 0 || f.Final > 1 {
			t.Errorf("Fuse(%v) final = %v out of [0,1]", in, f.Final)
		}
		if models.SeverityFromScore(f.Final) != f.Severity {
			t.Errorf("severity %s inconsistent with final %v", f.Severity, f.Final)
		}
	}
}

func TestPrimaryMethodTieBreak(t *testing.T) {
	tests := []struct {
		name    string
		b, t, c float64
		want    string
	}{
		{"content dominates", 0.1, 0.1, 0.9, NameContent},
		{"temporal dominates", 0.1, 0.9, 0.1, NameTemporal},
		{"behavioral dominates", 0.9, 0.1, 0.1, NameBehavioral},
		// Equal weighted contributions: content > temporal > behavioral.
		{"all equal", 0.0, 0.0, 0.0, NameContent},
		{"temporal ties behavioral", 0.6, 0.7, 0.0, NameTemporal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Fuse(tt.b, tt.t, tt.c, 0)
			if f.Primary != tt.want {
				t.Errorf("Primary = %s, want %s", f.Primary, tt.want)
			}
		})
	}
}
