// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/streamwarden/streamwarden/internal/cache"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/models"
)

// ActorEvent is the compact per-event record kept in the actor window.
type ActorEvent struct {
	Time         time.Time
	Type         models.EventType
	RepoKey      string
	CommitCount  int
	CommitMsgLen int // summed message length across commits
	FilesChanged int
}

const (
	actorWindowSpan = 24 * time.Hour
	maxActorEvents  = 500

	// repoWindowBuckets and repoActorCap bound each repository's
	// coordination counter store.
	repoWindowBuckets = 20
	repoActorCap      = 512

	// hourDecayHalfLife controls the exponential decay of the per-actor
	// hourly histogram, approximating a 7-day observation window.
	hourDecayHalfLife = 84 * time.Hour
)

type actorHistory struct {
	events []ActorEvent // ordered by arrival

	// hourCounts is a decayed per-hour histogram of the actor's activity,
	// feeding the unusual-timing chi-square test.
	hourCounts  [24]float64
	lastDecayAt time.Time
}

// History keeps bounded in-memory windows of recent events per actor and
// per repository. It is shared by all detectors within a processor
// instance; writes happen on the event's lane before detectors launch, so
// reads during detection see a consistent window that includes the current
// event.
//
// Actor windows are event-timestamped slices capped by span and count.
// Repository activity is tracked with per-actor sliding window counters
// over the coordination window; those windows are measured in arrival
// time, which for a near-real-time stream tracks the event timestamps
// within seconds. The key maps themselves are reclaimed by the Janitor.
type History struct {
	mu          sync.RWMutex
	coordWindow time.Duration
	actors      map[string]*actorHistory
	repos       map[string]*cache.SlidingWindowStore
}

// NewHistory creates an empty history store. coordWindow is the
// coordination-detection window; values <= 0 fall back to 10 minutes.
func NewHistory(coordWindow time.Duration) *History {
	if coordWindow <= 0 {
		coordWindow = 10 * time.Minute
	}
	return &History{
		coordWindow: coordWindow,
		actors:      make(map[string]*actorHistory),
		repos:       make(map[string]*cache.SlidingWindowStore),
	}
}

// Observe folds one event into the actor and repo windows. Called once per
// event, before detection.
func (h *History) Observe(e *models.Event) {
	ae := ActorEvent{
		Time:    e.CreatedAt,
		Type:    e.Type,
		RepoKey: e.RepoKey(),
	}
	if e.Type == models.EventTypePush {
		if p, err := e.PushPayload(); err == nil {
			ae.CommitCount = len(p.Commits)
			for _, c := range p.Commits {
				ae.CommitMsgLen += len(c.Message)
				ae.FilesChanged += len(c.Added) + len(c.Removed) + len(c.Modified)
			}
			if ae.FilesChanged == 0 {
				// The public feed usually omits file lists; payload size
				// is the original's proxy for change volume.
				ae.FilesChanged = p.Size
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ah := h.actors[e.ActorKey()]
	if ah == nil {
		ah = &actorHistory{lastDecayAt: e.CreatedAt}
		h.actors[e.ActorKey()] = ah
	}
	ah.events = append(ah.events, ae)
	ah.prune(e.CreatedAt)
	ah.observeHour(e.CreatedAt)

	rh := h.repos[e.RepoKey()]
	if rh == nil {
		rh = cache.NewSlidingWindowStore(h.coordWindow, repoWindowBuckets, repoActorCap)
		h.repos[e.RepoKey()] = rh
	}
	rh.Increment(e.ActorKey())
}

func (ah *actorHistory) prune(now time.Time) {
	cutoff := now.Add(-actorWindowSpan)
	idx := 0
	for idx < len(ah.events) && ah.events[idx].Time.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		ah.events = append(ah.events[:0], ah.events[idx:]...)
	}
	if len(ah.events) > maxActorEvents {
		ah.events = append(ah.events[:0], ah.events[len(ah.events)-maxActorEvents:]...)
	}
}

func (ah *actorHistory) observeHour(ts time.Time) {
	if ts.After(ah.lastDecayAt) {
		elapsed := ts.Sub(ah.lastDecayAt)
		decay := math.Pow(0.5, elapsed.Hours()/hourDecayHalfLife.Hours())
		for i := range ah.hourCounts {
			ah.hourCounts[i] *= decay
		}
		ah.lastDecayAt = ts
	}
	ah.hourCounts[ts.UTC().Hour()]++
}

// ActorEvents returns the actor's events with Time >= since, oldest first.
// The returned slice is a copy.
func (h *History) ActorEvents(actorKey string, since time.Time) []ActorEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ah := h.actors[actorKey]
	if ah == nil {
		return nil
	}
	out := make([]ActorEvent, 0, len(ah.events))
	for _, e := range ah.events {
		if !e.Time.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// RepoActivity returns the event count and distinct actor count for the
// repository within the coordination window.
func (h *History) RepoActivity(repoKey string) (events int, actors int) {
	h.mu.RLock()
	rh := h.repos[repoKey]
	h.mu.RUnlock()

	if rh == nil {
		return 0, 0
	}
	total, activeActors := rh.Totals()
	return int(total), activeActors
}

// HourHistogram returns the actor's decayed per-hour activity histogram
// and its total mass.
func (h *History) HourHistogram(actorKey string) (counts [24]float64, total float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ah := h.actors[actorKey]
	if ah == nil {
		return counts, 0
	}
	counts = ah.hourCounts
	for _, c := range counts {
		total += c
	}
	return counts, total
}

// CleanupIdle drops actors whose newest event predates the retention span
// and repositories with no activity left in the coordination window.
// Returns the number of keys removed.
func (h *History) CleanupIdle(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	actorCutoff := now.Add(-actorWindowSpan)
	for key, ah := range h.actors {
		if len(ah.events) == 0 || ah.events[len(ah.events)-1].Time.Before(actorCutoff) {
			delete(h.actors, key)
			removed++
		}
	}
	for key, rh := range h.repos {
		rh.CleanupInactive()
		if rh.Len() == 0 {
			delete(h.repos, key)
			removed++
		}
	}
	return removed
}

// Janitor periodically reclaims idle actor and repository keys from a
// History store. Without it the key maps grow with every distinct login
// the firehose ever mentions. Runs on the supervision tree's data layer,
// alongside the profile store GC.
type Janitor struct {
	history  *History
	interval time.Duration
}

// NewJanitor creates the history maintenance service.
func NewJanitor(history *History, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{history: history, interval: interval}
}

// Serve sweeps on the configured interval until the context ends.
// Implements suture.Service.
func (j *Janitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := j.history.CleanupIdle(time.Now()); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("history sweep")
			}
		}
	}
}
