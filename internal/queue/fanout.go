// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package queue

import (
	"context"
	"fmt"

	natsgo "github.com/nats-io/nats.go"

	"github.com/streamwarden/streamwarden/internal/config"
)

// FanoutMessage is one delivered fan-out message with its originating
// subject (used to recover the subscriber-facing channel name).
type FanoutMessage struct {
	Subject string
	Data    []byte
}

// FanoutListener consumes the anomaly and stats subjects for real-time
// delivery to WebSocket clients. It uses plain (non-durable) NATS
// subscriptions: live consumers want the current stream, not a replay, and
// the fan-out stream retains history for anyone who needs to catch up.
type FanoutListener struct {
	conn *natsgo.Conn
}

// NewFanoutListener connects a listener to the broker.
func NewFanoutListener(url string, cfg config.NATSConfig) (*FanoutListener, error) {
	conn, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect fanout listener: %w", err)
	}
	return &FanoutListener{conn: conn}, nil
}

// Listen subscribes to all anomaly subjects plus the stats subject and
// delivers messages until the context ends. The returned channel is closed
// on shutdown.
func (l *FanoutListener) Listen(ctx context.Context) (<-chan FanoutMessage, error) {
	out := make(chan FanoutMessage, 256)

	handler := func(msg *natsgo.Msg) {
		select {
		case out <- FanoutMessage{Subject: msg.Subject, Data: msg.Data}:
		default:
			// Slow consumer: drop rather than stall the broker callback.
		}
	}

	subs := make([]*natsgo.Subscription, 0, 2)
	for _, subject := range []string{FanoutWildcard, StatsSubject} {
		sub, err := l.conn.Subscribe(subject, handler)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			close(out)
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		close(out)
	}()

	return out, nil
}

// Close releases the connection.
func (l *FanoutListener) Close() error {
	l.conn.Close()
	return nil
}
