// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/models"
)

// newTestHistory creates a history store with the default coordination
// window.
func newTestHistory() *History {
	return NewHistory(testDetectorConfig().CoordWindow)
}

// testDetectorConfig mirrors the production defaults.
func testDetectorConfig() config.DetectorConfig {
	return config.DetectorConfig{
		EWMAAlpha:      0.05,
		WarmN:          10,
		MVNN:           30,
		BurstWindow:    5 * time.Minute,
		BurstMinCount:  5,
		BurstMinRate:   2.0,
		CoordWindow:    10 * time.Minute,
		CoordMinActors: 3,
		CoordMinEvents: 10,
	}
}

func testEvent(t *testing.T, id string, ts time.Time, typ models.EventType, actor, repo string, payload any) *models.Event {
	t.Helper()

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = data
	}

	return &models.Event{
		ID:        id,
		Type:      typ,
		Actor:     models.Actor{ID: 1, Login: actor},
		Repo:      models.Repository{ID: 2, FullName: repo},
		CreatedAt: ts,
		Payload:   raw,
		Priority:  models.PriorityFor(typ),
	}
}

func pushPayload(forced bool, ref string, commits ...models.Commit) *models.PushPayload {
	return &models.PushPayload{
		Ref:     ref,
		Size:    len(commits),
		Forced:  forced,
		Commits: commits,
	}
}
