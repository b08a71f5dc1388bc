// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package poller fetches the upstream public event stream at the fastest
// rate the remote quota permits, coordinates that quota with peer pollers
// through a shared cache, and enqueues deduplicated events with priority
// tags.
package poller

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/spaolacci/murmur3"
	"golang.org/x/time/rate"

	"github.com/streamwarden/streamwarden/internal/cache"
	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/ghclient"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

// Enqueuer hands filtered events to the durable queue.
type Enqueuer interface {
	EnqueueEvent(ctx context.Context, event *models.Event) error
}

// DropCounters tracks events dropped under backpressure, by priority.
// Counts are cumulative; Snapshot returns the totals for the stats stream.
type DropCounters struct {
	high   atomic.Int64
	medium atomic.Int64
	low    atomic.Int64
}

// Snapshot returns current drop totals keyed by priority.
func (d *DropCounters) Snapshot() map[string]int64 {
	return map[string]int64{
		string(models.PriorityHigh):   d.high.Load(),
		string(models.PriorityMedium): d.medium.Load(),
		string(models.PriorityLow):    d.low.Load(),
	}
}

func (d *DropCounters) inc(p models.Priority) {
	switch p {
	case models.PriorityHigh:
		d.high.Add(1)
	case models.PriorityMedium:
		d.medium.Add(1)
	default:
		d.low.Add(1)
	}
	metrics.RecordDrop(string(p))
}

// maxDuplicateRun stops catch-up pagination once this many already-seen
// events accumulate in a cycle, which means the poller has caught up to the
// previous cycle's cursor.
const maxDuplicateRun = 10

// Poller is the upstream fetch loop. It terminates only on context
// cancellation; transient upstream errors are retried forever.
type Poller struct {
	cfg       config.GitHubConfig
	sampleLow float64
	client    *ghclient.Client
	quota     QuotaCache
	enq       Enqueuer
	dedup     *cache.DedupSet
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[*ghclient.Page]
	drops     *DropCounters

	enqueueTimeout time.Duration

	etag         string
	failures     int
	backoffUntil time.Time
}

// New creates a poller.
func New(cfg config.GitHubConfig, pipe config.PipelineConfig, natsCfg config.NATSConfig, client *ghclient.Client, quota QuotaCache, enq Enqueuer) *Poller {
	settings := gobreaker.Settings{
		Name:        "github-poller",
		MaxRequests: 1, // single probe closes the breaker
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			if to == gobreaker.StateOpen {
				metrics.BreakerState.Set(1)
			} else {
				metrics.BreakerState.Set(0)
			}
		},
	}

	return &Poller{
		cfg:            cfg,
		sampleLow:      pipe.PrioritySampleLow,
		client:         client,
		quota:          quota,
		enq:            enq,
		dedup:          cache.NewDedupSet(200_000, pipe.DedupTTL),
		limiter:        rate.NewLimiter(rate.Every(time.Second), cfg.MaxPagesPerCycle),
		breaker:        gobreaker.NewCircuitBreaker[*ghclient.Page](settings),
		drops:          &DropCounters{},
		enqueueTimeout: natsCfg.EnqueueTimeout,
	}
}

// Drops exposes backpressure drop counters for the stats stream.
func (p *Poller) Drops() *DropCounters { return p.drops }

// Serve runs the poll loop until the context is canceled. Implements
// suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().Str("base_url", p.cfg.BaseURL).Int("active_pollers", p.cfg.ActivePollers).Msg("poller started")

	for {
		if err := ctx.Err(); err != nil {
			logging.Info().Msg("poller stopped")
			return err
		}

		if wait := time.Until(p.backoffUntil); wait > 0 {
			if !sleepCtx(ctx, minDuration(wait, time.Minute)) {
				return ctx.Err()
			}
			continue
		}

		p.runCycle(ctx)

		if !sleepCtx(ctx, p.sleepInterval()) {
			return ctx.Err()
		}
	}
}

// runCycle fetches up to MaxPagesPerCycle pages and enqueues survivors.
// In-flight pages finish before the cycle returns, so cancellation drains
// cleanly.
func (p *Poller) runCycle(ctx context.Context) {
	duplicates := 0

	for page := 1; page <= p.cfg.MaxPagesPerCycle; page++ {
		if ctx.Err() != nil {
			return
		}

		if q, ok, _ := p.quota.Get(); ok && q.Remaining < p.cfg.SafetyMargin/10 {
			logging.Warn().Int("remaining", q.Remaining).Msg("shared quota exhausted, stopping pagination")
			return
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		result, err := p.breaker.Execute(func() (*ghclient.Page, error) {
			return p.client.FetchPage(ctx, page, p.etag)
		})
		if err != nil {
			p.handleFetchError(err)
			return
		}

		p.failures = 0
		p.observeQuota(result.Quota)

		if result.NotModified {
			metrics.PollerPages.WithLabelValues("not_modified").Inc()
			return
		}
		metrics.PollerPages.WithLabelValues("ok").Inc()
		if page == 1 && result.ETag != "" {
			p.etag = result.ETag
		}

		duplicates += p.processPage(ctx, result.Events)

		// A short page or a run of duplicates means we have caught up.
		if duplicates >= maxDuplicateRun || len(result.Events) < p.cfg.PerPage {
			return
		}
	}
}

// processPage filters, samples, deduplicates, and enqueues one page.
// Returns the number of duplicates encountered.
func (p *Poller) processPage(ctx context.Context, events []models.Event) int {
	duplicates := 0

	for i := range events {
		event := &events[i]

		if err := event.Validate(); err != nil {
			metrics.EventsPolled.WithLabelValues("corrupt").Inc()
			continue
		}
		if models.Skippable(event.Type) {
			metrics.EventsPolled.WithLabelValues("skipped").Inc()
			continue
		}

		priority := models.PriorityFor(event.Type)
		if priority == models.PriorityLow && !p.keepSampled(event.ID) {
			metrics.EventsPolled.WithLabelValues("sampled_out").Inc()
			continue
		}

		if p.dedup.Seen(event.ID) {
			metrics.EventsPolled.WithLabelValues("duplicate").Inc()
			duplicates++
			continue
		}

		event.Priority = priority
		event.Payload = models.SlimPayload(event.Type, event.Payload)
		metrics.EventsPolled.WithLabelValues("kept").Inc()

		p.enqueue(ctx, event)
	}

	return duplicates
}

// enqueue publishes one event, applying the backpressure policy: low and
// medium priority events are dropped after the enqueue timeout; high
// priority events are retried until the queue accepts them or the poller
// shuts down.
func (p *Poller) enqueue(ctx context.Context, event *models.Event) {
	attempt := func() error {
		enqCtx, cancel := context.WithTimeout(ctx, p.enqueueTimeout)
		defer cancel()
		return p.enq.EnqueueEvent(enqCtx, event)
	}

	err := attempt()
	if err == nil {
		metrics.EventsEnqueued.WithLabelValues(string(event.Priority)).Inc()
		return
	}

	if event.Priority != models.PriorityHigh {
		logging.Warn().Err(err).Str("event_id", event.ID).Str("priority", string(event.Priority)).Msg("dropping event under backpressure")
		p.drops.inc(event.Priority)
		return
	}

	// High priority is never dropped; wait for the queue instead.
	for {
		if !sleepCtx(ctx, 500*time.Millisecond) {
			return
		}
		if err = attempt(); err == nil {
			metrics.EventsEnqueued.WithLabelValues(string(event.Priority)).Inc()
			return
		}
		logging.Warn().Err(err).Str("event_id", event.ID).Msg("retrying high-priority enqueue")
	}
}

// keepSampled applies the deterministic low-priority sample: a stable hash
// of the event id, so the decision is identical across restarts.
func (p *Poller) keepSampled(eventID string) bool {
	h := murmur3.Sum64([]byte(eventID))
	return float64(h%100) < p.sampleLow*100
}

// observeQuota publishes quota to the shared cache and retunes the local
// token bucket to this worker's share of what remains.
func (p *Poller) observeQuota(q ghclient.Quota) {
	metrics.QuotaRemaining.Set(float64(q.Remaining))
	if err := p.quota.Update(q); err != nil {
		logging.Warn().Err(err).Msg("failed to update shared quota cache")
	}

	budget := q.Remaining - p.cfg.SafetyMargin
	if budget < 0 {
		budget = 0
	}
	share := budget / p.cfg.ActivePollers

	untilReset := time.Until(q.Reset)
	if untilReset <= 0 {
		untilReset = time.Hour
	}

	perSecond := float64(share) / untilReset.Seconds()
	if perSecond < 0.01 {
		perSecond = 0.01
	}
	p.limiter.SetLimit(rate.Limit(perSecond))
	p.limiter.SetBurst(p.cfg.MaxPagesPerCycle)
}

// handleFetchError applies the failure policy: rate limits sleep until the
// reset hint plus jitter; 5xx backs off exponentially capped at a minute.
// The breaker handles sustained failure runs.
func (p *Poller) handleFetchError(err error) {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		p.backoffUntil = time.Now().Add(p.cfg.BreakerCooldown / 2)
		return
	}

	var rl *ghclient.RateLimitedError
	if errors.As(err, &rl) {
		metrics.PollerPages.WithLabelValues("rate_limited").Inc()
		jitter := time.Duration(rand.Float64() * float64(2*time.Second))
		p.backoffUntil = rl.Reset.Add(jitter)
		// Push the exhausted state to peers so they stop burning requests.
		_ = p.quota.Update(ghclient.Quota{Remaining: 0, Reset: rl.Reset, Observed: time.Now()})
		logging.Warn().Time("until", p.backoffUntil).Msg("rate limited, backing off until reset")
		return
	}

	metrics.PollerPages.WithLabelValues("upstream_error").Inc()
	p.failures++
	backoff := time.Duration(1<<min(p.failures, 6)) * time.Second
	backoff += time.Duration(rand.Float64() * float64(time.Second))
	if backoff > time.Minute {
		backoff = time.Minute
	}
	p.backoffUntil = time.Now().Add(backoff)
	logging.Warn().Err(err).Int("consecutive_failures", p.failures).Dur("backoff", backoff).Msg("upstream fetch failed")
}

// sleepInterval derives the inter-cycle pause from the shared quota state:
// plenty of quota polls aggressively, depleted quota waits for recovery.
func (p *Poller) sleepInterval() time.Duration {
	q, ok, err := p.quota.Get()
	if err != nil || !ok {
		return 30 * time.Second
	}

	var base time.Duration
	switch {
	case q.Remaining >= 2000:
		base = 15 * time.Second
	case q.Remaining >= 1000:
		base = 30 * time.Second
	case q.Remaining >= 500:
		base = time.Minute
	case q.Remaining >= 100:
		base = 2 * time.Minute
	default:
		base = 5 * time.Minute
	}
	jitter := time.Duration(rand.Float64() * float64(base) * 0.1)
	return base + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
