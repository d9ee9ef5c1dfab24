package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/cmdbroker/internal/auth"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/config"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsInbound is a client frame with the payload left undecoded.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// wsTiming holds the keepalive durations derived from WebSocketConfig.
type wsTiming struct {
	ping     time.Duration
	deadline time.Duration // read deadline: one ping interval plus the pong wait
	write    time.Duration
}

func newWSTiming(cfg config.WebSocketConfig) wsTiming {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	return wsTiming{ping: ping, deadline: ping + pong, write: pong}
}

// WSClient is one connected WebSocket consumer of lifecycle events.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// mu guards subscriptions and closed. send is only written while
	// holding the read lock with closed false.
	mu            sync.RWMutex
	send          chan []byte
	subscriptions map[string]struct{}
	closed        bool

	// Identity from the WebSocket ticket. Empty when auth is disabled.
	subject string
	role    auth.Role
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades GET /ws. With auth enabled the request must carry
// a single-use ?ticket= from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var entry ticketEntry
	if s.secCfg.Auth.Enabled {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if entry, ok = s.tickets.consume(ticket); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		subject:       entry.subject,
		role:          entry.role,
	}
	s.hub.Register(client)

	timing := newWSTiming(s.wsCfg)
	go client.writePump(timing)
	go client.readPump(timing, int64(s.wsCfg.MaxMessageSize))
}

// readPump handles client frames until the connection fails, then
// unregisters the client.
func (c *WSClient) readPump(timing wsTiming, maxMessageSize int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close() //nolint:errcheck // already failing
	}()

	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(timing.deadline)) }

	c.conn.SetReadLimit(maxMessageSize)
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err, "subject", c.subject)
			}
			return
		}
		// Application messages count as liveness too.
		extend() //nolint:errcheck // see above
		c.dispatch(data)
	}
}

// writePump drains send and pings on timing.ping until send is closed or a
// write fails.
func (c *WSClient) writePump(timing wsTiming) {
	ticker := time.NewTicker(timing.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // already failing or closing
	}()

	write := func(messageType int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(timing.write)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // best effort
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateSubscriptions(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// updateSubscriptions applies a subscribe or unsubscribe request. Unknown
// channels are reported back under "rejected" and otherwise ignored.
func (c *WSClient) updateSubscriptions(msg wsInbound) {
	var req WSSubscribePayload
	if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &req) != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	accepted := make([]string, 0, len(req.Channels))
	rejected := []string{}
	c.mu.Lock()
	for _, ch := range req.Channels {
		switch {
		case !validChannel(ch):
			rejected = append(rejected, ch)
		case msg.Type == WSTypeSubscribe:
			c.subscriptions[ch] = struct{}{}
			accepted = append(accepted, ch)
		default:
			delete(c.subscriptions, ch)
			accepted = append(accepted, ch)
		}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket subscriptions updated",
		"action", msg.Type, "channels", accepted, "rejected", rejected,
		"subject", c.subject, "role", c.role)

	c.reply(msg.ID, WSTypeResponse, map[string]any{
		msg.Type + "d": accepted,
		"rejected":     rejected,
	})
}

// isSubscribed matches channel exactly or through a "<prefix>.*" wildcard.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[channel]; ok {
		return true
	}
	if i := strings.LastIndexByte(channel, '.'); i > 0 {
		_, ok := c.subscriptions[channel[:i]+".*"]
		return ok
	}
	return false
}

// trySend queues data without blocking. It reports false when the buffer
// is full. A closed client silently discards.
func (c *WSClient) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes send exactly once, which ends writePump.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
