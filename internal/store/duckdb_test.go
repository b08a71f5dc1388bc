// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.duckdb"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEvent(id string) *models.Event {
	return &models.Event{
		ID:        id,
		Type:      models.EventTypePush,
		Actor:     models.Actor{ID: 1, Login: "alice"},
		Repo:      models.Repository{ID: 2, FullName: "acme/widgets"},
		CreatedAt: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		Priority:  models.PriorityHigh,
		Payload:   []byte(`{"ref":"refs/heads/main"}`),
	}
}

func testRecord(eventID string) *models.AnomalyRecord {
	return &models.AnomalyRecord{
		EventID:            eventID,
		RepositoryName:     "acme/widgets",
		UserLogin:          "alice",
		EventType:          models.EventTypePush,
		Timestamp:          time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		ContentScore:       0.8,
		FinalScore:         0.44,
		SeverityLevel:      models.SeverityMedium,
		PrimaryMethod:      "content",
		HighRiskIndicators: []string{"Force push to default branch"},
		DetectionTimestamp: time.Date(2026, 3, 4, 12, 0, 1, 0, time.UTC),
	}
}

func TestSaveEventIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.SaveEvent(ctx, testEvent("e1")); err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM events`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("events = %d, want 1 after duplicate saves", count)
	}
}

func TestSaveAnomalyIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.SaveAnomaly(ctx, testRecord("e1")); err != nil {
			t.Fatalf("SaveAnomaly: %v", err)
		}
	}

	exists, err := db.AnomalyExists(ctx, "e1")
	if err != nil {
		t.Fatalf("AnomalyExists: %v", err)
	}
	if !exists {
		t.Fatal("expected anomaly to exist")
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM anomalies`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("anomalies = %d, want 1 after duplicate saves", count)
	}
}

func TestRecentAnomaliesOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	older := testRecord("old")
	older.DetectionTimestamp = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	newer := testRecord("new")
	newer.DetectionTimestamp = time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)

	if err := db.SaveAnomaly(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveAnomaly(ctx, newer); err != nil {
		t.Fatal(err)
	}

	records, err := db.RecentAnomalies(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAnomalies: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].EventID != "new" {
		t.Errorf("first record = %s, want new", records[0].EventID)
	}
	if records[0].SeverityLevel != models.SeverityMedium {
		t.Errorf("severity = %s, want MEDIUM", records[0].SeverityLevel)
	}
}

func TestSavePatterns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	patterns := []models.TemporalPattern{
		{Type: "activity_burst", Severity: 0.75, ActorKey: "alice", EventCount: 12,
			WindowStart: time.Now().Add(-5 * time.Minute), WindowEnd: time.Now()},
	}
	if err := db.SavePatterns(ctx, "e1", patterns); err != nil {
		t.Fatalf("SavePatterns: %v", err)
	}
	// Same patterns again: idempotent.
	if err := db.SavePatterns(ctx, "e1", patterns); err != nil {
		t.Fatalf("SavePatterns repeat: %v", err)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM temporal_patterns`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("patterns = %d, want 1", count)
	}
}
