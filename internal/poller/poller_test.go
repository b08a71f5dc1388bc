// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/ghclient"
	"github.com/streamwarden/streamwarden/internal/models"
)

type fakeQuotaCache struct {
	quota ghclient.Quota
	ok    bool
}

func (f *fakeQuotaCache) Update(q ghclient.Quota) error {
	f.quota = q
	f.ok = true
	return nil
}

func (f *fakeQuotaCache) Get() (ghclient.Quota, bool, error) {
	return f.quota, f.ok, nil
}

type captureEnqueuer struct {
	events []*models.Event
	err    error
}

func (c *captureEnqueuer) EnqueueEvent(_ context.Context, e *models.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func testPoller(enq Enqueuer) *Poller {
	gh := config.GitHubConfig{
		BaseURL:          "http://127.0.0.1:0",
		PerPage:          100,
		MaxPagesPerCycle: 3,
		SafetyMargin:     500,
		ActivePollers:    2,
		BreakerFailures:  10,
		BreakerCooldown:  time.Minute,
		RequestTimeout:   time.Second,
	}
	pipe := config.PipelineConfig{
		PrioritySampleLow: 0.20,
		DedupTTL:          10 * time.Minute,
	}
	nats := config.NATSConfig{EnqueueTimeout: 100 * time.Millisecond}
	return New(gh, pipe, nats, nil, &fakeQuotaCache{}, enq)
}

func makeEvent(id string, typ models.EventType) models.Event {
	return models.Event{
		ID:        id,
		Type:      typ,
		Actor:     models.Actor{ID: 1, Login: "alice"},
		Repo:      models.Repository{ID: 2, FullName: "acme/widgets"},
		CreatedAt: time.Now(),
	}
}

func TestKeepSampledDeterministic(t *testing.T) {
	p := testPoller(&captureEnqueuer{})

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("event-%d", i)
		first := p.keepSampled(id)
		for j := 0; j < 3; j++ {
			if p.keepSampled(id) != first {
				t.Fatalf("sampling decision for %s is not stable", id)
			}
		}
	}
}

func TestKeepSampledFraction(t *testing.T) {
	p := testPoller(&captureEnqueuer{})

	kept := 0
	const n = 10000
	for i := 0; i < n; i++ {
		if p.keepSampled(fmt.Sprintf("id-%d", i)) {
			kept++
		}
	}
	frac := float64(kept) / n
	if frac < 0.15 || frac > 0.25 {
		t.Errorf("kept fraction = %v, want ~0.20", frac)
	}
}

func TestProcessPageFiltersAndTags(t *testing.T) {
	enq := &captureEnqueuer{}
	p := testPoller(enq)

	events := []models.Event{
		makeEvent("1", models.EventTypePush),          // high, kept
		makeEvent("2", models.EventTypePullRequest),   // medium, kept
		makeEvent("3", models.EventTypeIssueComment),  // skip type
		{ID: "4", Type: models.EventTypePush},         // corrupt (no actor/repo/time)
	}

	p.processPage(context.Background(), events)

	if len(enq.events) != 2 {
		t.Fatalf("enqueued %d events, want 2", len(enq.events))
	}
	if enq.events[0].Priority != models.PriorityHigh {
		t.Errorf("push priority = %s, want high", enq.events[0].Priority)
	}
	if enq.events[1].Priority != models.PriorityMedium {
		t.Errorf("pr priority = %s, want medium", enq.events[1].Priority)
	}
}

func TestProcessPageDeduplicates(t *testing.T) {
	enq := &captureEnqueuer{}
	p := testPoller(enq)

	events := []models.Event{makeEvent("dup", models.EventTypePush)}
	p.processPage(context.Background(), events)
	duplicates := p.processPage(context.Background(), []models.Event{makeEvent("dup", models.EventTypePush)})

	if len(enq.events) != 1 {
		t.Errorf("enqueued %d events, want 1 (dedup)", len(enq.events))
	}
	if duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", duplicates)
	}
}

func TestEnqueueDropPolicyLowPriority(t *testing.T) {
	enq := &captureEnqueuer{err: errors.New("queue full")}
	p := testPoller(enq)

	event := makeEvent("low1", models.EventTypeWatch)
	event.Priority = models.PriorityLow
	p.enqueue(context.Background(), &event)

	drops := p.Drops().Snapshot()
	if drops[string(models.PriorityLow)] != 1 {
		t.Errorf("low drops = %d, want 1", drops[string(models.PriorityLow)])
	}
	if drops[string(models.PriorityHigh)] != 0 {
		t.Errorf("high drops = %d, want 0", drops[string(models.PriorityHigh)])
	}
}

func TestEnqueueHighPriorityNeverDropped(t *testing.T) {
	enq := &captureEnqueuer{err: errors.New("queue full")}
	p := testPoller(enq)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	event := makeEvent("high1", models.EventTypePush)
	event.Priority = models.PriorityHigh
	p.enqueue(ctx, &event) // waits for the queue until shutdown

	drops := p.Drops().Snapshot()
	if drops[string(models.PriorityHigh)] != 0 {
		t.Errorf("high drops = %d, want 0 even when the queue refuses", drops[string(models.PriorityHigh)])
	}
}

func TestHandleFetchErrorRateLimited(t *testing.T) {
	p := testPoller(&captureEnqueuer{})
	reset := time.Now().Add(10 * time.Minute)

	p.handleFetchError(&ghclient.RateLimitedError{Status: 403, Reset: reset})

	if p.backoffUntil.Before(reset) {
		t.Errorf("backoffUntil %v before reset %v", p.backoffUntil, reset)
	}
	if p.backoffUntil.After(reset.Add(2 * time.Second)) {
		t.Errorf("backoffUntil %v exceeds reset + 2s jitter", p.backoffUntil)
	}
}

func TestHandleFetchErrorUpstreamBackoff(t *testing.T) {
	p := testPoller(&captureEnqueuer{})

	for i := 0; i < 10; i++ {
		p.handleFetchError(&ghclient.UpstreamError{Status: 502})
	}

	wait := time.Until(p.backoffUntil)
	if wait <= 0 {
		t.Error("expected a positive backoff after repeated 5xx")
	}
	if wait > 61*time.Second {
		t.Errorf("backoff %v exceeds the 60s cap", wait)
	}
}

func TestSleepIntervalTiers(t *testing.T) {
	quota := &fakeQuotaCache{}
	p := testPoller(&captureEnqueuer{})
	p.quota = quota

	tests := []struct {
		remaining int
		min, max  time.Duration
	}{
		{4000, 15 * time.Second, 17 * time.Second},
		{1500, 30 * time.Second, 34 * time.Second},
		{700, time.Minute, 67 * time.Second},
		{200, 2 * time.Minute, 133 * time.Second},
		{50, 5 * time.Minute, 331 * time.Second},
	}

	for _, tt := range tests {
		quota.Update(ghclient.Quota{Remaining: tt.remaining, Reset: time.Now().Add(time.Hour), Observed: time.Now()})
		got := p.sleepInterval()
		if got < tt.min || got > tt.max {
			t.Errorf("sleepInterval(remaining=%d) = %v, want [%v, %v]", tt.remaining, got, tt.min, tt.max)
		}
	}
}
