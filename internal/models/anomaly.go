// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// AnomalyRecord is the persisted detection result for one event. Records
// are immutable once written and idempotent on EventID.
type AnomalyRecord struct {
	EventID        string    `json:"event_id"`
	RepositoryName string    `json:"repository_name"`
	UserLogin      string    `json:"user_login"`
	EventType      EventType `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`

	BehavioralScore  float64 `json:"behavioral_anomaly_score"`
	ContentScore     float64 `json:"content_risk_score"`
	TemporalScore    float64 `json:"temporal_anomaly_score"`
	CriticalityScore float64 `json:"repository_criticality_score"`
	FinalScore       float64 `json:"final_anomaly_score"`

	SeverityLevel Severity `json:"severity_level"`
	PrimaryMethod string   `json:"primary_method"`

	BehavioralAnalysis json.RawMessage `json:"behavioral_analysis,omitempty"`
	ContentAnalysis    json.RawMessage `json:"content_analysis,omitempty"`
	TemporalAnalysis   json.RawMessage `json:"temporal_analysis,omitempty"`
	RepositoryContext  json.RawMessage `json:"repository_context,omitempty"`

	HighRiskIndicators []string `json:"high_risk_indicators,omitempty"`
	AISummary          string   `json:"ai_summary,omitempty"`

	DetectionTimestamp time.Time `json:"detection_timestamp"`
}

// TemporalPattern is an auxiliary record emitted by the temporal detector
// when a burst or coordination pattern straddles multiple events.
type TemporalPattern struct {
	Type        string    `json:"type"` // activity_burst, coordinated_activity, unusual_timing, velocity_acceleration
	Severity    float64   `json:"severity"`
	ActorKey    string    `json:"actor_key,omitempty"`
	RepoKey     string    `json:"repo_key,omitempty"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	EventCount  int       `json:"event_count"`
	ActorCount  int       `json:"actor_count,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// ProcessingStats is the per-batch stats message published on the
// processing_stats channel.
type ProcessingStats struct {
	EventsProcessed   int              `json:"events_processed"`
	AnomaliesDetected int              `json:"anomalies_detected"`
	BatchSize         int              `json:"batch_size"`
	DroppedByPriority map[string]int64 `json:"dropped_by_priority,omitempty"`
	DetectorTimeouts  int              `json:"detector_timeouts"`
	ProcessingMillis  int64            `json:"processing_millis"`
	Timestamp         time.Time        `json:"timestamp"`
}
