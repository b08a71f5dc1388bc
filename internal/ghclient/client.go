// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package ghclient wraps the upstream public events API: page fetches with
// conditional requests, rate-limit header extraction, and typed errors the
// poller branches on.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/models"
)

const userAgent = "StreamWarden/1.0"

// Quota is the rate-limit state reported by upstream response headers.
// Headers are the sole source of truth for quota.
type Quota struct {
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Observed  time.Time `json:"observed"`
}

// Page is the result of fetching one events page.
type Page struct {
	Events      []models.Event
	ETag        string
	Quota       Quota
	NotModified bool
}

// RateLimitedError indicates an HTTP 403/429 with a reset hint.
type RateLimitedError struct {
	Status int
	Reset  time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (status %d), resets at %s", e.Status, e.Reset.Format(time.RFC3339))
}

// UpstreamError indicates a 5xx or unexpected status.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// IsTransient reports whether the error warrants a retry with backoff.
func IsTransient(err error) bool {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Status >= 500
	}
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// Client fetches pages from the events endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	perPage    int
}

// New creates a client. timeout bounds each request.
func New(baseURL, token string, perPage int, timeout time.Duration) *Client {
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      token,
		perPage:    perPage,
	}
}

// rawEvent mirrors the upstream event wire shape. The payload is kept
// opaque; detectors decode the fields they need on demand.
type rawEvent struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Actor struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	} `json:"actor"`
	Repo struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// FetchPage requests one page of public events. On page 1, etag (when
// non-empty) is sent as If-None-Match so an unchanged feed costs no quota.
// The returned Quota reflects the response headers even on error statuses.
func (c *Client) FetchPage(ctx context.Context, page int, etag string) (*Page, error) {
	url := fmt.Sprintf("%s/events?per_page=%d&page=%d", c.baseURL, c.perPage, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	if page == 1 && etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch events page %d: %w", page, err)
	}
	defer resp.Body.Close()

	result := &Page{Quota: parseQuota(resp.Header)}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		result.NotModified = true
		return result, nil

	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		reset := result.Quota.Reset
		if reset.IsZero() {
			reset = time.Now().Add(time.Hour)
		}
		return result, &RateLimitedError{Status: resp.StatusCode, Reset: reset}

	case resp.StatusCode != http.StatusOK:
		return result, &UpstreamError{Status: resp.StatusCode}
	}

	if page == 1 {
		result.ETag = resp.Header.Get("ETag")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("read events body: %w", err)
	}

	var raw []rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return result, fmt.Errorf("decode events page: %w", err)
	}

	result.Events = make([]models.Event, 0, len(raw))
	for _, r := range raw {
		result.Events = append(result.Events, models.Event{
			ID:        r.ID,
			Type:      models.EventType(r.Type),
			Actor:     models.Actor{ID: r.Actor.ID, Login: r.Actor.Login},
			Repo:      models.Repository{ID: r.Repo.ID, FullName: r.Repo.Name},
			CreatedAt: r.CreatedAt,
			Payload:   r.Payload,
		})
	}
	return result, nil
}

func parseQuota(h http.Header) Quota {
	q := Quota{Observed: time.Now()}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			q.Reset = time.Unix(ts, 0)
		}
	}
	return q
}
