// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package metrics provides Prometheus instrumentation for the pipeline:
// poller throughput and quota, queue depth and drops, detector latency and
// timeouts, anomaly counts by severity, and profile cache efficiency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poller metrics

	EventsPolled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_events_total",
			Help: "Events fetched from upstream, by outcome (kept, sampled_out, skipped, duplicate, corrupt)",
		},
		[]string{"outcome"},
	)

	PollerPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_pages_total",
			Help: "Upstream page fetches by result (ok, not_modified, rate_limited, upstream_error)",
		},
		[]string{"result"},
	)

	QuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poller_quota_remaining",
			Help: "Last observed X-RateLimit-Remaining value",
		},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poller_breaker_open",
			Help: "1 when the poller circuit breaker is open, 0 otherwise",
		},
	)

	// Queue metrics

	EventsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_enqueued_total",
			Help: "Events enqueued to the event stream by priority",
		},
		[]string{"priority"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_dropped_total",
			Help: "Events dropped under backpressure by priority",
		},
		[]string{"priority"},
	)

	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_total",
			Help: "NATS publishes by subject class (events, anomalies, stats)",
		},
		[]string{"class"},
	)

	// Processor metrics

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "processor_batch_size",
			Help:    "Number of events per processed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 35, 50},
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "processor_batch_duration_seconds",
			Help:    "End-to-end batch processing duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	DetectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detector_duration_seconds",
			Help:    "Per-detector evaluation duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"detector"},
	)

	DetectorTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_timeouts_total",
			Help: "Detector evaluations that exceeded their deadline",
		},
		[]string{"detector"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_errors_total",
			Help: "Detector evaluations that returned an error",
		},
		[]string{"detector"},
	)

	EventsPrefiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "processor_events_prefiltered_total",
			Help: "Low-priority events short-circuited as trivially normal",
		},
	)

	CorruptEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_corrupt_events_total",
			Help: "Events dropped for missing or malformed fields, by kind",
		},
		[]string{"kind"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalies_detected_total",
			Help: "Persisted anomaly records by severity",
		},
		[]string{"severity"},
	)

	// Profile store metrics

	ProfileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_hits_total",
			Help: "Profile reads served from the LRU cache",
		},
	)

	ProfileCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_misses_total",
			Help: "Profile reads that fell through to the backing store",
		},
	)

	ProfilesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profiles_expired_total",
			Help: "Profile store value-log GC passes that rewrote a log file",
		},
	)

	// Store metrics

	StoreWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_write_duration_seconds",
			Help:    "DuckDB write durations by table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	StoreWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_write_errors_total",
			Help: "DuckDB write errors by table",
		},
		[]string{"table"},
	)

	// WebSocket metrics

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Currently connected WebSocket clients",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Messages fanned out to WebSocket clients",
		},
	)
)

// ObserveDetector records one detector evaluation.
func ObserveDetector(name string, d time.Duration, timedOut bool, err error) {
	DetectorDuration.WithLabelValues(name).Observe(d.Seconds())
	if timedOut {
		DetectorTimeouts.WithLabelValues(name).Inc()
	}
	if err != nil {
		DetectorErrors.WithLabelValues(name).Inc()
	}
}

// RecordDrop counts one backpressure drop for a priority level.
func RecordDrop(priority string) {
	EventsDropped.WithLabelValues(priority).Inc()
}
