// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package main is the entry point for the StreamWarden server.
//
// StreamWarden ingests the public activity stream of a code-hosting
// platform and detects events that deviate from behavioral, temporal,
// content, and contextual baselines in near real time.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, YAML file, environment)
//  2. Logging (zerolog)
//  3. DuckDB event/anomaly store
//  4. Badger profile store (shared with the poller's quota cache)
//  5. NATS JetStream (embedded by default) + stream provisioning
//  6. Supervision tree: data, messaging, and pipeline layers
//
// Shutdown is signal-driven (SIGINT/SIGTERM): the poller drains in-flight
// pages, the processor nacks the events of its current batch that it has
// not finished (the queue redelivers them), and the supervisors stop their
// services with a bounded timeout.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/detect"
	"github.com/streamwarden/streamwarden/internal/ghclient"
	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/poller"
	"github.com/streamwarden/streamwarden/internal/processor"
	"github.com/streamwarden/streamwarden/internal/profile"
	"github.com/streamwarden/streamwarden/internal/queue"
	"github.com/streamwarden/streamwarden/internal/server"
	"github.com/streamwarden/streamwarden/internal/store"
	"github.com/streamwarden/streamwarden/internal/supervisor"
	"github.com/streamwarden/streamwarden/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Fatal configuration aborts startup before anything is running.
		logging.Fatal().Err(err).Msg("configuration failed")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().Msg("streamwarden starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("streamwarden exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("streamwarden stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Persistence layers.
	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	profiles, err := profile.Open(cfg.Profiles, cfg.Detectors.EWMAAlpha)
	if err != nil {
		return err
	}
	defer profiles.Close()

	// Broker: embedded by default, external when configured.
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		embedded, err := queue.NewEmbeddedServer(cfg.NATS)
		if err != nil {
			return err
		}
		defer func() { _ = embedded.Shutdown(context.Background()) }()
		natsURL = embedded.ClientURL()
	}

	if err := queue.ProvisionStreams(ctx, natsURL, cfg.NATS); err != nil {
		return err
	}

	wmLogger := watermill.NewStdLogger(false, false)

	publisher, err := queue.NewPublisher(natsURL, cfg.NATS, wmLogger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	subscriber, err := queue.NewSubscriber(natsURL, cfg.NATS, wmLogger)
	if err != nil {
		return err
	}
	defer subscriber.Close()

	fanout, err := queue.NewFanoutListener(natsURL, cfg.NATS)
	if err != nil {
		return err
	}
	defer fanout.Close()

	// Pipeline components.
	client := ghclient.New(cfg.GitHub.BaseURL, cfg.GitHub.Token, cfg.GitHub.PerPage, cfg.GitHub.RequestTimeout)
	quotaCache := poller.NewBadgerQuotaCache(profiles.DB(), cfg.GitHub.Region)
	eventPoller := poller.New(cfg.GitHub, cfg.Pipeline, cfg.NATS, client, quotaCache, publisher)

	proc := processor.New(
		cfg.Pipeline,
		cfg.Detectors,
		cfg.Profiles.CriticalityTTL,
		subscriber,
		profiles,
		db,
		publisher,
		processor.NewTemplateSummarizer(),
		eventPoller.Drops(),
	)

	// Real-time fan-out.
	hub := websocket.NewHub()
	bridge := websocket.NewBridge(hub, fanout)

	httpServer := server.New(cfg.Server, hub, map[string]server.ReadinessCheck{
		"duckdb": db.Ping,
	})

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(profile.NewGC(profiles))
	tree.AddDataService(detect.NewJanitor(proc.History(), time.Hour))
	tree.AddMessagingService(hub)
	tree.AddMessagingService(bridge)
	tree.AddMessagingService(httpServer)
	tree.AddPipelineService(eventPoller)
	tree.AddPipelineService(proc)

	return tree.Serve(ctx)
}
