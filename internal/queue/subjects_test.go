// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package queue

import (
	"testing"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestEventSubject(t *testing.T) {
	if got := EventSubject(models.PriorityHigh); got != "events.raw.high" {
		t.Errorf("EventSubject(high) = %s", got)
	}
	if got := EventSubject(models.PriorityLow); got != "events.raw.low" {
		t.Errorf("EventSubject(low) = %s", got)
	}
}

func TestChannelSubjectRoundTrip(t *testing.T) {
	tests := []struct {
		subject string
		channel string
	}{
		{AnomalyAllSubject, "anomalies"},
		{StatsSubject, "processing_stats"},
		{SeveritySubject(models.SeverityCritical), "anomalies_critical"},
		{SeveritySubject(models.SeverityInfo), "anomalies_info"},
		{UserSubject("alice"), "user_alice"},
		{RepoSubject("acme/widgets"), "repo_acme/widgets"},
	}

	for _, tt := range tests {
		if got := ChannelForSubject(tt.subject); got != tt.channel {
			t.Errorf("ChannelForSubject(%s) = %s, want %s", tt.subject, got, tt.channel)
		}
	}
}

func TestSanitizeTokenInSubjects(t *testing.T) {
	// Dots would add subject levels; they must be collapsed.
	got := UserSubject("weird.name with spaces")
	if got != "anomalies.user.weird_name_with_spaces" {
		t.Errorf("UserSubject = %s", got)
	}
	if got := UserSubject(""); got != "anomalies.user.unknown" {
		t.Errorf("UserSubject(empty) = %s", got)
	}
}

func TestSerializerRejectsInvalidEvents(t *testing.T) {
	s := NewSerializer()
	if _, err := s.Marshal(&models.Event{ID: "1"}); err == nil {
		t.Error("marshal of an invalid event must fail")
	}
}
