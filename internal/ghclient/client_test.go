// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package ghclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

const eventsBody = `[
	{
		"id": "40000000001",
		"type": "PushEvent",
		"actor": {"id": 1, "login": "alice"},
		"repo": {"id": 2, "name": "acme/widgets"},
		"payload": {"ref": "refs/heads/main", "size": 1, "forced": false, "commits": []},
		"created_at": "2026-03-04T12:00:00Z"
	},
	{
		"id": "40000000002",
		"type": "WatchEvent",
		"actor": {"id": 3, "login": "bob"},
		"repo": {"id": 4, "name": "acme/gears"},
		"payload": {"action": "started"},
		"created_at": "2026-03-04T12:00:01Z"
	}
]`

func TestFetchPageParsesEventsAndQuota(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("X-RateLimit-Remaining", "4321")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))
		w.Header().Set("ETag", `"abc123"`)
		_, _ = w.Write([]byte(eventsBody))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token", 100, 5*time.Second)
	page, err := c.FetchPage(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if len(page.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(page.Events))
	}
	if page.Events[0].Type != models.EventTypePush {
		t.Errorf("type = %s", page.Events[0].Type)
	}
	if page.Events[0].Actor.Login != "alice" {
		t.Errorf("actor = %s", page.Events[0].Actor.Login)
	}
	if page.Events[0].Repo.FullName != "acme/widgets" {
		t.Errorf("repo = %s", page.Events[0].Repo.FullName)
	}
	if page.ETag != `"abc123"` {
		t.Errorf("etag = %q", page.ETag)
	}
	if page.Quota.Remaining != 4321 {
		t.Errorf("remaining = %d, want 4321", page.Quota.Remaining)
	}
	if page.Quota.Reset.Unix() != reset {
		t.Errorf("reset = %v", page.Quota.Reset)
	}
}

func TestFetchPageConditionalRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-None-Match"); got != `"cached"` {
			t.Errorf("If-None-Match = %q", got)
		}
		w.Header().Set("X-RateLimit-Remaining", "4000")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 100, 5*time.Second)
	page, err := c.FetchPage(context.Background(), 1, `"cached"`)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if !page.NotModified {
		t.Error("expected NotModified")
	}
	if len(page.Events) != 0 {
		t.Errorf("events = %d, want 0", len(page.Events))
	}
}

func TestFetchPageRateLimited(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 100, 5*time.Second)
	_, err := c.FetchPage(context.Background(), 1, "")

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want RateLimitedError", err)
	}
	if rl.Reset.Unix() != reset {
		t.Errorf("reset = %v", rl.Reset)
	}
	if !IsTransient(err) {
		t.Error("rate limiting must be transient")
	}
}

func TestFetchPageUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 100, 5*time.Second)
	_, err := c.FetchPage(context.Background(), 1, "")

	var up *UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if up.Status != http.StatusBadGateway {
		t.Errorf("status = %d", up.Status)
	}
	if !IsTransient(err) {
		t.Error("5xx must be transient")
	}
}
