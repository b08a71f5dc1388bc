// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package queue

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/streamwarden/streamwarden/internal/config"
	"github.com/streamwarden/streamwarden/internal/models"
)

// Subscriber consumes the raw event work queue as a durable JetStream
// consumer. Multiple stream processor instances share the queue group, so
// delivery is at-least-once and load-balanced.
type Subscriber struct {
	subscriber message.Subscriber
	serializer *Serializer
	logger     watermill.LoggerAdapter
}

// NewSubscriber creates a durable queue-group subscriber bound to the event
// stream.
func NewSubscriber(url string, cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("subscriber disconnected", err, nil)
			}
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(5),
		natsgo.MaxAckPending(512),
		natsgo.AckWait(cfg.AckWait),
		natsgo.DeliverAll(),
		// The wildcard subject cannot name a stream; bind explicitly.
		natsgo.BindStream(EventStreamName),
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1, // ordering is handled by processor lanes
		AckWaitTimeout:   cfg.AckWait,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Subscriber{
		subscriber: sub,
		serializer: NewSerializer(),
		logger:     logger,
	}, nil
}

// Messages returns the raw event message channel. The channel closes when
// the context is canceled or the subscriber is closed.
func (s *Subscriber) Messages(ctx context.Context) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, EventSubjectWildcard)
}

// DecodeEvent deserializes a queue message into an event.
func (s *Subscriber) DecodeEvent(msg *message.Message) (*models.Event, error) {
	return s.serializer.Unmarshal(msg.Payload)
}

// Close gracefully shuts down the subscriber.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}
