// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/streamwarden/streamwarden/internal/models"
)

// TemplateSummarizer is the default summary enrichment: a deterministic
// template over the record's scores and indicators. An external model
// client can replace it behind the Summarizer interface.
type TemplateSummarizer struct{}

// NewTemplateSummarizer creates the default summarizer.
func NewTemplateSummarizer() *TemplateSummarizer {
	return &TemplateSummarizer{}
}

// Summarize implements Summarizer.
func (s *TemplateSummarizer) Summarize(_ context.Context, r *models.AnomalyRecord) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s anomaly (score %.2f) on %s: %s by %s.",
		r.SeverityLevel, r.FinalScore, r.RepositoryName, r.EventType, r.UserLogin)

	fmt.Fprintf(&b, " Primary signal: %s (behavioral %.2f, temporal %.2f, content %.2f, criticality %.2f).",
		r.PrimaryMethod, r.BehavioralScore, r.TemporalScore, r.ContentScore, r.CriticalityScore)

	if len(r.HighRiskIndicators) > 0 {
		b.WriteString(" Indicators: ")
		b.WriteString(strings.Join(r.HighRiskIndicators, "; "))
		b.WriteString(".")
	}

	return b.String(), nil
}
