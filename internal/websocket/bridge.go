// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package websocket

import (
	"context"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/queue"
)

// Bridge forwards broker fan-out messages to the hub, translating NATS
// subjects back into subscriber-facing channel names. It is the only link
// between the pub/sub layer and connected dashboards.
type Bridge struct {
	hub      *Hub
	listener *queue.FanoutListener
}

// NewBridge creates a bridge between the fan-out listener and the hub.
func NewBridge(hub *Hub, listener *queue.FanoutListener) *Bridge {
	return &Bridge{hub: hub, listener: listener}
}

// Serve consumes fan-out messages until the context ends. Implements
// suture.Service.
func (b *Bridge) Serve(ctx context.Context) error {
	messages, err := b.listener.Listen(ctx)
	if err != nil {
		return err
	}
	logging.Info().Msg("anomaly fan-out bridge started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			b.forward(msg)
		}
	}
}

func (b *Bridge) forward(msg queue.FanoutMessage) {
	channel := queue.ChannelForSubject(msg.Subject)

	msgType := MessageTypeAnomaly
	if channel == queue.ChannelProcessingStats {
		msgType = MessageTypeStats
	}

	b.hub.Broadcast(channel, msgType, msg.Data)
}
