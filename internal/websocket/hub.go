// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package websocket delivers anomaly records and processing stats to
// dashboard clients in real time. Clients subscribe to named channels
// (anomalies, anomalies_<severity>, user_<actor>, repo_<repo>,
// processing_stats); the hub fans each message out to the clients
// subscribed to its channel.
package websocket

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/logging"
	"github.com/streamwarden/streamwarden/internal/metrics"
)

// Message is one WebSocket frame.
type Message struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Frame types.
const (
	MessageTypeAnomaly     = "anomaly_detected"
	MessageTypeStats       = "processing_stats"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeSubscribed  = "subscribed"
)

// Hub maintains the set of active clients and routes channel messages to
// their subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	Register   chan *Client
	Unregister chan *Client
	broadcast  chan broadcastItem
}

type broadcastItem struct {
	channel string
	msg     Message
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan broadcastItem, 256),
	}
}

// Serve runs the hub loop until the context is canceled. Implements
// suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(count))
			logging.Info().Int("total_clients", count).Msg("websocket client connected")

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(count))
			logging.Info().Int("total_clients", count).Msg("websocket client disconnected")

		case item := <-h.broadcast:
			h.deliver(item)
		}
	}
}

// Broadcast routes a message to subscribers of the channel.
func (h *Hub) Broadcast(channel, msgType string, data json.RawMessage) {
	item := broadcastItem{
		channel: channel,
		msg:     Message{Type: msgType, Channel: channel, Data: data},
	}
	select {
	case h.broadcast <- item:
	default:
		logging.Warn().Str("channel", channel).Msg("hub broadcast buffer full, dropping message")
	}
}

func (h *Hub) deliver(item broadcastItem) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.subscribedTo(item.channel) {
			continue
		}
		select {
		case client.send <- item.msg:
			metrics.WSMessagesSent.Inc()
		default:
			// Slow client: skip rather than block the hub.
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSClients.Set(0)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
