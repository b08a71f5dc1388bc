// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package store persists events and anomaly records in DuckDB. Writes are
// idempotent on event id, which is what makes at-least-once queue delivery
// safe end-to-end.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

// DB wraps the DuckDB connection.
type DB struct {
	conn *sql.DB
}

// Open opens the database, creating the file and schema as needed.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := cfg.Path
	if cfg.MaxMemory != "" {
		dsn += "?max_memory=" + cfg.MaxMemory
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports connectivity, for readiness checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR PRIMARY KEY,
			type VARCHAR NOT NULL,
			actor_id BIGINT,
			actor_login VARCHAR NOT NULL,
			repo_id BIGINT,
			repo_name VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL,
			priority VARCHAR NOT NULL,
			payload JSON,
			ingested_at TIMESTAMP DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS anomalies (
			event_id VARCHAR PRIMARY KEY,
			repository_name VARCHAR NOT NULL,
			user_login VARCHAR NOT NULL,
			event_type VARCHAR NOT NULL,
			event_timestamp TIMESTAMP NOT NULL,
			behavioral_anomaly_score DOUBLE NOT NULL,
			content_risk_score DOUBLE NOT NULL,
			temporal_anomaly_score DOUBLE NOT NULL,
			repository_criticality_score DOUBLE NOT NULL,
			final_anomaly_score DOUBLE NOT NULL,
			severity_level VARCHAR NOT NULL,
			primary_method VARCHAR,
			behavioral_analysis JSON,
			content_analysis JSON,
			temporal_analysis JSON,
			repository_context JSON,
			high_risk_indicators JSON,
			ai_summary VARCHAR,
			detection_timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS temporal_patterns (
			id VARCHAR PRIMARY KEY,
			event_id VARCHAR NOT NULL,
			pattern_type VARCHAR NOT NULL,
			severity DOUBLE NOT NULL,
			actor_key VARCHAR,
			repo_key VARCHAR,
			window_start TIMESTAMP,
			window_end TIMESTAMP,
			event_count INTEGER,
			actor_count INTEGER,
			detail VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_severity ON anomalies (severity_level)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_detected ON anomalies (detection_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events (created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveEvent persists one event, idempotent on id.
func (db *DB) SaveEvent(ctx context.Context, e *models.Event) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO events (id, type, actor_id, actor_login, repo_id, repo_name, created_at, priority, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Type), e.Actor.ID, e.ActorKey(), e.Repo.ID, e.RepoKey(),
		e.CreatedAt, string(e.Priority), rawOrNull(e.Payload),
	)
	metrics.StoreWriteDuration.WithLabelValues("events").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreWriteErrors.WithLabelValues("events").Inc()
		return fmt.Errorf("save event %s: %w", e.ID, err)
	}
	return nil
}

// SaveAnomaly persists one anomaly record, idempotent on event id:
// reprocessing a duplicate delivery never produces a second record.
func (db *DB) SaveAnomaly(ctx context.Context, r *models.AnomalyRecord) error {
	indicators, err := json.Marshal(r.HighRiskIndicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}

	start := time.Now()
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO anomalies (
			event_id, repository_name, user_login, event_type, event_timestamp,
			behavioral_anomaly_score, content_risk_score, temporal_anomaly_score,
			repository_criticality_score, final_anomaly_score,
			severity_level, primary_method,
			behavioral_analysis, content_analysis, temporal_analysis, repository_context,
			high_risk_indicators, ai_summary, detection_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		r.EventID, r.RepositoryName, r.UserLogin, string(r.EventType), r.Timestamp,
		r.BehavioralScore, r.ContentScore, r.TemporalScore,
		r.CriticalityScore, r.FinalScore,
		string(r.SeverityLevel), r.PrimaryMethod,
		rawOrNull(r.BehavioralAnalysis), rawOrNull(r.ContentAnalysis),
		rawOrNull(r.TemporalAnalysis), rawOrNull(r.RepositoryContext),
		string(indicators), nullIfEmpty(r.AISummary), r.DetectionTimestamp,
	)
	metrics.StoreWriteDuration.WithLabelValues("anomalies").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreWriteErrors.WithLabelValues("anomalies").Inc()
		return fmt.Errorf("save anomaly %s: %w", r.EventID, err)
	}
	return nil
}

// SavePatterns persists temporal pattern sub-records for an event.
func (db *DB) SavePatterns(ctx context.Context, eventID string, patterns []models.TemporalPattern) error {
	for i, p := range patterns {
		id := fmt.Sprintf("%s:%s:%d", eventID, p.Type, i)
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO temporal_patterns (
				id, event_id, pattern_type, severity, actor_key, repo_key,
				window_start, window_end, event_count, actor_count, detail
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			id, eventID, p.Type, p.Severity, p.ActorKey, p.RepoKey,
			p.WindowStart, p.WindowEnd, p.EventCount, p.ActorCount, p.Detail,
		)
		if err != nil {
			metrics.StoreWriteErrors.WithLabelValues("temporal_patterns").Inc()
			return fmt.Errorf("save pattern %s: %w", id, err)
		}
	}
	return nil
}

// AnomalyExists reports whether a record exists for the event id.
func (db *DB) AnomalyExists(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM anomalies WHERE event_id = ?`, eventID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check anomaly %s: %w", eventID, err)
	}
	return count > 0, nil
}

// RecentAnomalies returns the newest records, most recent first.
func (db *DB) RecentAnomalies(ctx context.Context, limit int) ([]models.AnomalyRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT event_id, repository_name, user_login, event_type, event_timestamp,
			behavioral_anomaly_score, content_risk_score, temporal_anomaly_score,
			repository_criticality_score, final_anomaly_score,
			severity_level, primary_method, detection_timestamp
		FROM anomalies
		ORDER BY detection_timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent anomalies: %w", err)
	}
	defer rows.Close()

	var out []models.AnomalyRecord
	for rows.Next() {
		var r models.AnomalyRecord
		var eventType, severity string
		var primary sql.NullString
		if err := rows.Scan(&r.EventID, &r.RepositoryName, &r.UserLogin, &eventType, &r.Timestamp,
			&r.BehavioralScore, &r.ContentScore, &r.TemporalScore,
			&r.CriticalityScore, &r.FinalScore,
			&severity, &primary, &r.DetectionTimestamp); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		r.EventType = models.EventType(eventType)
		r.SeverityLevel = models.Severity(severity)
		r.PrimaryMethod = primary.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return strings.TrimSpace(string(raw))
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
