package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/cmdbroker/internal/command"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/config"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/logging"
)

const (
	// channelPrefix starts every command lifecycle channel.
	channelPrefix = "command."

	// ChannelAllCommands matches every command lifecycle channel.
	ChannelAllCommands = channelPrefix + "*"
)

// CommandChannel returns the WebSocket channel for a lifecycle event,
// e.g. "command.completed".
func CommandChannel(ev command.EventType) string {
	return channelPrefix + string(ev)
}

// validChannel accepts ChannelAllCommands and one channel per event type.
func validChannel(ch string) bool {
	if ch == ChannelAllCommands {
		return true
	}
	ev, ok := strings.CutPrefix(ch, channelPrefix)
	return ok && command.EventType(ev).Valid()
}

// CommandEventPayload is broadcast on command channels.
type CommandEventPayload struct {
	Event   string         `json:"event"`
	Command command.Record `json:"command"`
	At      time.Time      `json:"at"`
}

// Hub fans queue events out to WebSocket clients. It is a command.Observer.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	// dropped counts messages skipped because a client's buffer was full.
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// OnCommandEvent broadcasts ev on its command channel.
func (h *Hub) OnCommandEvent(ev command.Event) {
	h.Broadcast(CommandChannel(ev.Type), CommandEventPayload{
		Event:   string(ev.Type),
		Command: ev.Command.Record(),
		At:      ev.At.UTC(),
	})
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.close()
		if client.conn != nil {
			client.conn.Close() //nolint:errcheck // shutting down
		}
	}
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", client.subject)
}

// Unregister removes a client and closes its send channel. Calling it
// twice is harmless.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		client.close()
		h.logger.Debug("websocket client disconnected", "clients", n, "subject", client.subject)
	}
}

// Broadcast sends an event message to every client subscribed to channel.
// Slow clients whose buffer is full miss the message.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.isSubscribed(channel) {
			continue
		}
		if !client.trySend(data) {
			h.dropped.Add(1)
			h.logger.Debug("websocket client too slow, message dropped",
				"channel", channel, "subject", client.subject)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages slow clients have missed.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
