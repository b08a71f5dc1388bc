// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamwarden/streamwarden/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected WebSocket consumer with its channel
// subscriptions. A client with no explicit subscriptions receives the
// general anomalies channel and processing stats.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

// clientCommand is the inbound control frame shape.
type clientCommand struct {
	Action   string   `json:"action"` // subscribe, unsubscribe, ping
	Channels []string `json:"channels,omitempty"`
}

// ServeWS upgrades an HTTP request and attaches the client to the hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan Message, 256),
		subscriptions: map[string]struct{}{
			"anomalies":        {},
			"processing_stats": {},
		},
	}

	hub.Register <- client
	go client.writePump()
	go client.readPump()
}

func (c *Client) subscribedTo(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd clientCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		c.handleCommand(cmd)
	}
}

func (c *Client) handleCommand(cmd clientCommand) {
	switch cmd.Action {
	case "subscribe":
		c.mu.Lock()
		for _, ch := range cmd.Channels {
			c.subscriptions[ch] = struct{}{}
		}
		c.mu.Unlock()
		c.trySend(Message{Type: MessageTypeSubscribed})
	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range cmd.Channels {
			delete(c.subscriptions, ch)
		}
		c.mu.Unlock()
	case "ping":
		c.trySend(Message{Type: MessageTypePong})
	}
}

func (c *Client) trySend(msg Message) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
