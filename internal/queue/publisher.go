// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/metrics"
	"github.com/streamwarden/streamwarden/internal/models"
)

// Publisher wraps a Watermill NATS publisher with circuit breaker
// protection and the pipeline's subject layout. Message IDs are the event
// or record ids, so JetStream's duplicate window makes publishes
// idempotent.
type Publisher struct {
	publisher  message.Publisher
	breaker    *gobreaker.CircuitBreaker[any]
	serializer *Serializer
	mu         sync.RWMutex
	closed     bool
}

// NewPublisher creates a resilient JetStream publisher.
func NewPublisher(url string, cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // streams are pre-created by ProvisionStreams
			TrackMsgId:    true,  // duplicate suppression on message id
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	settings := gobreaker.Settings{
		Name:    "nats-publisher",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Publisher{
		publisher:  pub,
		breaker:    gobreaker.NewCircuitBreaker[any](settings),
		serializer: NewSerializer(),
	}, nil
}

// Publish sends a message to the given subject through the breaker.
func (p *Publisher) Publish(ctx context.Context, subject string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(subject, msg)
	})
	return err
}

// EnqueueEvent publishes a raw event to the work queue, tagged with its
// priority. The message id is the event id, making the enqueue idempotent
// within the stream's duplicate window. Implements poller.Enqueuer.
func (p *Publisher) EnqueueEvent(ctx context.Context, event *models.Event) error {
	data, err := p.serializer.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(event.ID, data)
	msg.Metadata.Set("priority", string(event.Priority))
	msg.Metadata.Set("event_type", string(event.Type))

	if err := p.Publish(ctx, EventSubject(event.Priority), msg); err != nil {
		return fmt.Errorf("enqueue event %s: %w", event.ID, err)
	}
	metrics.PublishTotal.WithLabelValues("events").Inc()
	return nil
}

// PublishAnomaly fans an anomaly record out to the general channel, its
// severity channel, and the per-actor and per-repository channels.
func (p *Publisher) PublishAnomaly(ctx context.Context, record *models.AnomalyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal anomaly record: %w", err)
	}

	subjects := []string{
		AnomalyAllSubject,
		SeveritySubject(record.SeverityLevel),
		UserSubject(record.UserLogin),
		RepoSubject(record.RepositoryName),
	}

	for _, subject := range subjects {
		// Distinct message id per subject: JetStream deduplicates per
		// stream, and all four subjects share the fan-out stream.
		msg := message.NewMessage(record.EventID+":"+subject, data)
		msg.Metadata.Set("severity", string(record.SeverityLevel))
		if err := p.Publish(ctx, subject, msg); err != nil {
			return fmt.Errorf("publish anomaly %s to %s: %w", record.EventID, subject, err)
		}
	}
	metrics.PublishTotal.WithLabelValues("anomalies").Inc()
	return nil
}

// PublishStats publishes one per-batch stats message.
func (p *Publisher) PublishStats(ctx context.Context, stats *models.ProcessingStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal processing stats: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), data)
	if err := p.Publish(ctx, StatsSubject, msg); err != nil {
		return fmt.Errorf("publish processing stats: %w", err)
	}
	metrics.PublishTotal.WithLabelValues("stats").Inc()
	return nil
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
