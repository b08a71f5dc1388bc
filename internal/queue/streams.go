// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/streamwarden/streamwarden/internal/config"
)

// ProvisionStreams creates or updates the two JetStream streams the
// pipeline relies on. Idempotent; safe to call on every startup.
//
// The event stream is the bounded work queue: DiscardNew makes publishes
// fail when the bound is reached, which is what drives the poller's
// priority-aware drop policy. The fan-out stream keeps a rolling window of
// anomaly and stats messages for late subscribers.
func ProvisionStreams(ctx context.Context, url string, cfg config.NATSConfig) error {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return fmt.Errorf("connect for stream provisioning: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}

	maxAge := time.Duration(cfg.RetentionHours) * time.Hour

	streams := []jetstream.StreamConfig{
		{
			Name:       EventStreamName,
			Subjects:   []string{EventSubjectWildcard},
			Retention:  jetstream.WorkQueuePolicy,
			MaxAge:     maxAge,
			MaxMsgs:    cfg.EventStreamMaxMsgs,
			Discard:    jetstream.DiscardNew,
			Storage:    jetstream.FileStorage,
			Duplicates: 10 * time.Minute,
		},
		{
			Name:        FanoutStreamName,
			Subjects:    []string{FanoutWildcard, StatsSubject},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      maxAge,
			MaxMsgs:     cfg.EventStreamMaxMsgs,
			Discard:     jetstream.DiscardOld,
			Storage:     jetstream.FileStorage,
			AllowDirect: true,
			Duplicates:  2 * time.Minute,
		},
	}

	for _, streamCfg := range streams {
		if err := ensureStream(ctx, js, streamCfg); err != nil {
			return err
		}
	}
	return nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) error {
	_, err := js.Stream(ctx, cfg.Name)
	if err == nil {
		if _, err := js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("update stream %s: %w", cfg.Name, err)
		}
		return nil
	}
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		return nil
	}
	return fmt.Errorf("check stream %s: %w", cfg.Name, err)
}
