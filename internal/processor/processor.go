// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package processor implements the stream processor: it consumes the event
// queue in batches, drives the four detectors in parallel per event, fuses
// their scores, persists results, and fans anomalies out to subscribers.
//
// Ordering: events are sharded onto lanes by actor key. Within a lane
// events run strictly serially, so an actor's profile updates are FIFO;
// across lanes there is no ordering guarantee.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/spaolacci/murmur3"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/detect"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

// EventSource supplies queue messages; implemented by queue.Subscriber.
type EventSource interface {
	Messages(ctx context.Context) (<-chan *message.Message, error)
	DecodeEvent(msg *message.Message) (*models.Event, error)
}

// Profiles is the baseline store surface the processor needs; implemented
// by profile.Store.
type Profiles interface {
	GetUser(ctx context.Context, actorKey string) (*models.UserProfile, error)
	UpsertUser(ctx context.Context, actorKey string, features [models.FeatureCount]float64, eventType models.EventType, ts time.Time) (*models.UserProfile, error)
	GetRepo(ctx context.Context, repoKey string) (*models.RepoProfile, error)
	TouchRepo(ctx context.Context, repoKey, actorKey string, ts time.Time) (*models.RepoProfile, error)
}

// Sink persists events and detection results; implemented by store.DB.
type Sink interface {
	SaveEvent(ctx context.Context, e *models.Event) error
	SaveAnomaly(ctx context.Context, r *models.AnomalyRecord) error
	SavePatterns(ctx context.Context, eventID string, patterns []models.TemporalPattern) error
}

// Fanout publishes anomalies and stats; implemented by queue.Publisher.
type Fanout interface {
	PublishAnomaly(ctx context.Context, record *models.AnomalyRecord) error
	PublishStats(ctx context.Context, stats *models.ProcessingStats) error
}

// Summarizer enriches high-severity records with a human-readable summary.
// The default implementation is deterministic; an LLM-backed one can be
// plugged in without touching the pipeline.
type Summarizer interface {
	Summarize(ctx context.Context, record *models.AnomalyRecord) (string, error)
}

// DropSource reports poller backpressure drops for the stats stream.
type DropSource interface {
	Snapshot() map[string]int64
}

// Processor is the stream processor.
type Processor struct {
	cfg config.PipelineConfig

	source     EventSource
	profiles   Profiles
	sink       Sink
	fanout     Fanout
	summarizer Summarizer
	drops      DropSource

	detectors  []detect.Detector
	contextual detect.Detector
	history    *detect.History

	// timeouts counts detector timeouts within the current batch.
	timeouts int
	timeoutsMu sync.Mutex
}

// New creates a processor wired to its collaborators. summarizer and drops
// may be nil.
func New(
	cfg config.PipelineConfig,
	detCfg config.DetectorConfig,
	criticalityTTL time.Duration,
	source EventSource,
	profiles Profiles,
	sink Sink,
	fanout Fanout,
	summarizer Summarizer,
	drops DropSource,
) *Processor {
	return &Processor{
		cfg:        cfg,
		source:     source,
		profiles:   profiles,
		sink:       sink,
		fanout:     fanout,
		summarizer: summarizer,
		drops:      drops,
		detectors: []detect.Detector{
			detect.NewBehavioralDetector(detCfg),
			detect.NewTemporalDetector(detCfg),
			detect.NewContentDetector(),
		},
		contextual: detect.NewContextualDetector(criticalityTTL),
		history:    detect.NewHistory(detCfg.CoordWindow),
	}
}

// History exposes the shared window store, for tests.
func (p *Processor) History() *detect.History { return p.history }

// Serve consumes the queue until the context is canceled. Implements
// suture.Service.
func (p *Processor) Serve(ctx context.Context) error {
	messages, err := p.source.Messages(ctx)
	if err != nil {
		return err
	}
	logging.Info().Int("batch_max", p.cfg.BatchMax).Int("lanes", p.cfg.Lanes).Msg("stream processor started")

	for {
		batch, ok := p.collectBatch(ctx, messages)
		if len(batch) > 0 {
			p.processBatch(ctx, batch)
		}
		if !ok {
			logging.Info().Msg("stream processor stopped")
			return ctx.Err()
		}
	}
}

// collectBatch accumulates up to BatchMax messages, or whatever arrived
// within BatchMaxWait of the first message. Returns ok=false when the
// source channel closed or the context ended; any collected messages are
// still processed by the caller.
func (p *Processor) collectBatch(ctx context.Context, messages <-chan *message.Message) ([]*message.Message, bool) {
	var batch []*message.Message
	var deadline <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return batch, false
		case msg, open := <-messages:
			if !open {
				return batch, false
			}
			batch = append(batch, msg)
			if len(batch) >= p.cfg.BatchMax {
				return batch, true
			}
			if deadline == nil {
				timer := time.NewTimer(p.cfg.BatchMaxWait)
				defer timer.Stop()
				deadline = timer.C
			}
		case <-deadline:
			return batch, true
		}
	}
}

// processBatch runs one batch end-to-end under the batch deadline.
func (p *Processor) processBatch(ctx context.Context, batch []*message.Message) {
	start := time.Now()
	batchCtx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	p.timeoutsMu.Lock()
	p.timeouts = 0
	p.timeoutsMu.Unlock()

	metrics.BatchSize.Observe(float64(len(batch)))

	// Shard messages onto lanes by actor key. Lane order preserves queue
	// order for events of the same actor.
	lanes := make([][]*laneItem, p.cfg.Lanes)
	valid := 0
	for _, msg := range batch {
		event, err := p.source.DecodeEvent(msg)
		if err != nil {
			metrics.CorruptEvents.WithLabelValues("undecodable").Inc()
			msg.Ack() // permanently malformed; retrying cannot help
			continue
		}
		if err := event.Validate(); err != nil {
			metrics.CorruptEvents.WithLabelValues("invalid_fields").Inc()
			msg.Ack()
			continue
		}
		lane := int(murmur3.Sum64([]byte(event.ActorKey())) % uint64(p.cfg.Lanes))
		lanes[lane] = append(lanes[lane], &laneItem{msg: msg, event: event})
		valid++
	}

	anomalies := 0
	var anomaliesMu sync.Mutex

	var wg sync.WaitGroup
	for _, items := range lanes {
		if len(items) == 0 {
			continue
		}
		wg.Add(1)
		go func(items []*laneItem) {
			defer wg.Done()
			for _, item := range items {
				if batchCtx.Err() != nil {
					item.msg.Nack() // redeliver after the deadline
					continue
				}
				reported := p.processEvent(batchCtx, item)
				if reported {
					anomaliesMu.Lock()
					anomalies++
					anomaliesMu.Unlock()
				}
			}
		}(items)
	}
	wg.Wait()

	elapsed := time.Since(start)
	metrics.BatchDuration.Observe(elapsed.Seconds())

	p.publishStats(ctx, valid, anomalies, len(batch), elapsed)
}

type laneItem struct {
	msg   *message.Message
	event *models.Event
}

// processEvent runs the per-event pipeline. Returns true when an anomaly
// record was persisted. The message is acked on success and nacked on any
// failure so the queue redelivers.
func (p *Processor) processEvent(ctx context.Context, item *laneItem) bool {
	eventCtx, cancel := context.WithTimeout(ctx, p.cfg.EventTimeout)
	defer cancel()

	event := item.event
	reported, err := p.scoreAndPersist(eventCtx, event)
	if err != nil {
		logging.Warn().Err(err).Str("event_id", event.ID).Msg("event processing failed, requeueing")
		item.msg.Nack()
		return false
	}
	item.msg.Ack()
	return reported
}

// scoreAndPersist runs the per-event pipeline: history, profiles,
// pre-filter, parallel detection, fusion, gate, persist, publish, profile
// update.
func (p *Processor) scoreAndPersist(ctx context.Context, event *models.Event) (bool, error) {
	// The current event joins the window before feature extraction, so
	// rate features include it.
	p.history.Observe(event)

	user, err := p.profiles.GetUser(ctx, event.ActorKey())
	if err != nil {
		return false, err
	}
	repo, err := p.profiles.TouchRepo(ctx, event.RepoKey(), event.ActorKey(), event.CreatedAt)
	if err != nil {
		return false, err
	}

	// The event itself is persisted exactly once regardless of outcome.
	if err := p.sink.SaveEvent(ctx, event); err != nil {
		return false, err
	}

	// Pre-filter: a low-priority event from a well-established actor doing
	// what that actor always does scores zero without running detectors.
	if p.prefiltered(event, user) {
		metrics.EventsPrefiltered.Inc()
		features := detect.ExtractBehavioralFeatures(p.history, event.ActorKey(), event.CreatedAt)
		if _, err := p.profiles.UpsertUser(ctx, event.ActorKey(), features, event.Type, event.CreatedAt); err != nil {
			return false, err
		}
		return false, nil
	}

	input := &detect.Input{
		Event:   event,
		User:    user,
		Repo:    repo,
		History: p.history,
		Now:     event.CreatedAt,
	}

	results := p.runDetectors(ctx, input)
	behavioral := results[detect.NameBehavioral]
	temporal := results[detect.NameTemporal]
	content := results[detect.NameContent]
	contextual := results[detect.NameContextual]

	fusion := detect.Fuse(behavioral.Score, temporal.Score, content.Score, contextual.Score)

	reported := false
	if fusion.Final >= p.cfg.ReportFloor {
		record := p.buildRecord(ctx, event, fusion, results)
		if err := p.sink.SaveAnomaly(ctx, record); err != nil {
			return false, err
		}
		if len(temporal.Patterns) > 0 {
			if err := p.sink.SavePatterns(ctx, event.ID, temporal.Patterns); err != nil {
				logging.Warn().Err(err).Str("event_id", event.ID).Msg("failed to persist temporal patterns")
			}
		}
		if err := p.fanout.PublishAnomaly(ctx, record); err != nil {
			// The record is persisted; publish failures must not trigger
			// redelivery (idempotent writes make the retry harmless, but
			// subscribers would still see nothing until NATS recovers).
			logging.Warn().Err(err).Str("event_id", event.ID).Msg("failed to publish anomaly")
		}
		metrics.AnomaliesDetected.WithLabelValues(string(fusion.Severity)).Inc()
		reported = true
	}

	// Profile update happens after detection, never before: the baseline
	// that scored this event must not include it.
	features := featuresFromResult(behavioral, p.history, event)
	if _, err := p.profiles.UpsertUser(ctx, event.ActorKey(), features, event.Type, event.CreatedAt); err != nil {
		return false, err
	}

	return reported, nil
}

// prefiltered applies the cheap trivially-normal rejection. Only
// low-priority events are eligible; high and medium always get full
// scoring.
func (p *Processor) prefiltered(event *models.Event, user *models.UserProfile) bool {
	if event.Priority != models.PriorityLow || user == nil {
		return false
	}
	return user.SampleCount >= p.cfg.PrefilterMinSamples &&
		user.TypeShare(event.Type) >= p.cfg.PrefilterTypeShare
}

// runDetectors evaluates all four detectors concurrently, each under its
// own deadline. Errors and timeouts degrade to zero-score results; they
// never fail the event.
func (p *Processor) runDetectors(ctx context.Context, input *detect.Input) map[string]*detect.Result {
	all := append([]detect.Detector{}, p.detectors...)
	all = append(all, p.contextual)

	results := make(map[string]*detect.Result, len(all))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, d := range all {
		wg.Add(1)
		go func(d detect.Detector) {
			defer wg.Done()

			detCtx, cancel := context.WithTimeout(ctx, p.cfg.DetectorTimeout)
			defer cancel()

			start := time.Now()
			result := p.safeDetect(detCtx, d, input)
			elapsed := time.Since(start)

			timedOut := result.TimedOut
			metrics.ObserveDetector(d.Name(), elapsed, timedOut, nil)
			if timedOut {
				p.timeoutsMu.Lock()
				p.timeouts++
				p.timeoutsMu.Unlock()
			}

			mu.Lock()
			results[d.Name()] = result
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	return results
}

// safeDetect isolates detector panics, errors, and deadline overruns into
// degraded results.
func (p *Processor) safeDetect(ctx context.Context, d detect.Detector, input *detect.Input) (result *detect.Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("detector", d.Name()).Msg("detector panicked")
			result = detect.DegradedResult(false, "panic")
		}
	}()

	done := make(chan *detect.Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := d.Detect(ctx, input)
		if err != nil {
			errCh <- err
			return
		}
		done <- res
	}()

	select {
	case <-ctx.Done():
		return detect.DegradedResult(true, "")
	case err := <-errCh:
		logging.Warn().Err(err).Str("detector", d.Name()).Msg("detector error")
		metrics.DetectorErrors.WithLabelValues(d.Name()).Inc()
		return detect.DegradedResult(false, err.Error())
	case res := <-done:
		if res == nil {
			return detect.DegradedResult(false, "nil result")
		}
		return res
	}
}

// buildRecord assembles the persisted anomaly record, including detector
// explanations and the optional summary enrichment.
func (p *Processor) buildRecord(ctx context.Context, event *models.Event, fusion detect.Fusion, results map[string]*detect.Result) *models.AnomalyRecord {
	record := &models.AnomalyRecord{
		EventID:            event.ID,
		RepositoryName:     event.RepoKey(),
		UserLogin:          event.ActorKey(),
		EventType:          event.Type,
		Timestamp:          event.CreatedAt,
		BehavioralScore:    fusion.Behavioral,
		ContentScore:       fusion.Content,
		TemporalScore:      fusion.Temporal,
		CriticalityScore:   fusion.Criticality,
		FinalScore:         fusion.Final,
		SeverityLevel:      fusion.Severity,
		PrimaryMethod:      fusion.Primary,
		BehavioralAnalysis: marshalResult(results[detect.NameBehavioral]),
		ContentAnalysis:    marshalResult(results[detect.NameContent]),
		TemporalAnalysis:   marshalResult(results[detect.NameTemporal]),
		RepositoryContext:  marshalResult(results[detect.NameContextual]),
		HighRiskIndicators: highRiskIndicators(results),
		DetectionTimestamp: time.Now().UTC(),
	}

	if p.summarizer != nil &&
		(fusion.Severity == models.SeverityCritical || fusion.Severity == models.SeverityHigh) {
		if summary, err := p.summarizer.Summarize(ctx, record); err == nil {
			record.AISummary = summary
		} else {
			logging.Warn().Err(err).Str("event_id", event.ID).Msg("summary generation failed")
		}
	}

	return record
}

// publishStats emits the per-batch stats message.
func (p *Processor) publishStats(ctx context.Context, processed, anomalies, batchSize int, elapsed time.Duration) {
	p.timeoutsMu.Lock()
	timeouts := p.timeouts
	p.timeoutsMu.Unlock()

	stats := &models.ProcessingStats{
		EventsProcessed:   processed,
		AnomaliesDetected: anomalies,
		BatchSize:         batchSize,
		DetectorTimeouts:  timeouts,
		ProcessingMillis:  elapsed.Milliseconds(),
		Timestamp:         time.Now().UTC(),
	}
	if p.drops != nil {
		stats.DroppedByPriority = p.drops.Snapshot()
	}

	statsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.fanout.PublishStats(statsCtx, stats); err != nil {
		logging.Warn().Err(err).Msg("failed to publish processing stats")
	}
}

// featuresFromResult reuses the behavioral detector's feature vector for
// the profile update, recomputing only when the detector degraded.
func featuresFromResult(behavioral *detect.Result, history *detect.History, event *models.Event) [models.FeatureCount]float64 {
	var features [models.FeatureCount]float64
	if behavioral != nil && len(behavioral.Features) == models.FeatureCount {
		copy(features[:], behavioral.Features)
		return features
	}
	return detect.ExtractBehavioralFeatures(history, event.ActorKey(), event.CreatedAt)
}

func marshalResult(r *detect.Result) json.RawMessage {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}
