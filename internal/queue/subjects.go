// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package queue

import (
	"strings"

	"github.com/streamwarden/streamwarden/internal/models"
)

// Subject layout. Raw events and anomaly fan-out live on separate streams
// so queue backpressure never throttles subscriber delivery.
const (
	// EventStreamName holds raw ingested events awaiting processing.
	EventStreamName = "SW_EVENTS"
	// EventSubjectPrefix is the raw event subject root; the final token is
	// the priority tag.
	EventSubjectPrefix = "events.raw"
	// EventSubjectWildcard matches all raw events.
	EventSubjectWildcard = "events.raw.*"

	// FanoutStreamName holds anomaly and stats fan-out messages.
	FanoutStreamName = "SW_FANOUT"
	// AnomalyAllSubject carries every anomaly record.
	AnomalyAllSubject = "anomalies.all"
	// StatsSubject carries per-batch processing stats.
	StatsSubject = "stats.processing"
	// FanoutWildcard matches everything on the fan-out stream.
	FanoutWildcard = "anomalies.>"
)

// Subscriber-facing channel names, as published to consumers. The NATS
// subject is an internal detail; ChannelForSubject maps back.
const (
	ChannelAnomalies       = "anomalies"
	ChannelProcessingStats = "processing_stats"
)

// EventSubject returns the subject for a raw event of the given priority.
func EventSubject(p models.Priority) string {
	return EventSubjectPrefix + "." + string(p)
}

// SeveritySubject returns the subject for one severity bucket.
func SeveritySubject(sev models.Severity) string {
	return "anomalies.severity." + strings.ToLower(string(sev))
}

// UserSubject returns the per-actor subject.
func UserSubject(actorKey string) string {
	return "anomalies.user." + sanitizeToken(actorKey)
}

// RepoSubject returns the per-repository subject.
func RepoSubject(repoKey string) string {
	return "anomalies.repo." + sanitizeToken(repoKey)
}

// SeverityChannel returns the subscriber-facing channel name for a
// severity bucket, e.g. anomalies_critical.
func SeverityChannel(sev models.Severity) string {
	return "anomalies_" + strings.ToLower(string(sev))
}

// UserChannel returns the subscriber-facing per-actor channel name.
func UserChannel(actorKey string) string {
	return "user_" + sanitizeToken(actorKey)
}

// RepoChannel returns the subscriber-facing per-repository channel name.
func RepoChannel(repoKey string) string {
	return "repo_" + sanitizeToken(repoKey)
}

// ChannelForSubject maps a fan-out subject back to its channel name.
func ChannelForSubject(subject string) string {
	switch {
	case subject == AnomalyAllSubject:
		return ChannelAnomalies
	case subject == StatsSubject:
		return ChannelProcessingStats
	case strings.HasPrefix(subject, "anomalies.severity."):
		return "anomalies_" + strings.TrimPrefix(subject, "anomalies.severity.")
	case strings.HasPrefix(subject, "anomalies.user."):
		return "user_" + strings.TrimPrefix(subject, "anomalies.user.")
	case strings.HasPrefix(subject, "anomalies.repo."):
		return "repo_" + strings.TrimPrefix(subject, "anomalies.repo.")
	}
	return subject
}

// sanitizeToken makes a key safe as a single NATS subject token. Dots,
// wildcards, and whitespace would otherwise change subject semantics.
func sanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '.', '*', '>', ' ', '\t':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
