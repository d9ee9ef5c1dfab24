package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/cmdbroker/internal/auth"
	"github.com/nerrad567/cmdbroker/internal/command"
)

func newTestClient(hub *Hub, channels ...string) *WSClient {
	c := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 8),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	hub.Register(c)
	return c
}

func receive(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return WSMessage{}
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testDeps().WS, testLogger())
	exact := newTestClient(hub, "command.completed")
	wildcard := newTestClient(hub, ChannelAllCommands)
	other := newTestClient(hub, "command.failed")

	assert.Equal(t, 3, hub.ClientCount())

	hub.Broadcast("command.completed", map[string]string{"id": "abc"})

	for _, c := range []*WSClient{exact, wildcard} {
		msg := receive(t, c)
		assert.Equal(t, WSTypeEvent, msg.Type)
		assert.Equal(t, "command.completed", msg.EventType)
	}
	assert.Empty(t, other.send)
}

func TestHub_OnCommandEvent(t *testing.T) {
	hub := NewHub(testDeps().WS, testLogger())
	client := newTestClient(hub, ChannelAllCommands)

	cmd, err := command.New(command.TypeScroll, "#list", map[string]any{"dy": 200}, time.Now())
	require.NoError(t, err)
	hub.OnCommandEvent(command.Event{Type: command.EventEnqueued, Command: *cmd, At: time.Now()})

	msg := receive(t, client)
	assert.Equal(t, "command.enqueued", msg.EventType)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "enqueued", payload["event"])
	assert.Equal(t, cmd.ID, payload["command"].(map[string]any)["id"])
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub(testDeps().WS, testLogger())
	client := newTestClient(hub, ChannelAllCommands)

	hub.Unregister(client)
	hub.Unregister(client)
	assert.Zero(t, hub.ClientCount())

	_, open := <-client.send
	assert.False(t, open)

	// Broadcasting after disconnect must not panic.
	hub.Broadcast("command.enqueued", nil)
}

func TestIsSubscribed(t *testing.T) {
	c := &WSClient{subscriptions: map[string]struct{}{
		"command.*":     {},
		"queue.summary": {},
	}}

	assert.True(t, c.isSubscribed("command.failed"))
	assert.True(t, c.isSubscribed("queue.summary"))
	assert.False(t, c.isSubscribed("queue.other"))
	assert.False(t, c.isSubscribed("command"))
}

func dialWS(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws://" + strings.TrimPrefix(ts.URL, "http://") + "/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_StreamsLifecycleEvents(t *testing.T) {
	srv := testServer(t, nil)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	conn, resp, err := dialWS(t, ts, "")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck // Test cleanup
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelAllCommands}},
	}))
	ack := readWS(t, conn)
	assert.Equal(t, WSTypeResponse, ack.Type)
	assert.Equal(t, "sub-1", ack.ID)

	id, err := srv.queue.Enqueue(context.Background(), command.TypeClick, "#btn", nil)
	require.NoError(t, err)

	msg := readWS(t, conn)
	assert.Equal(t, WSTypeEvent, msg.Type)
	assert.Equal(t, "command.enqueued", msg.EventType)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, id, payload["command"].(map[string]any)["id"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}))
	assert.Equal(t, WSTypePong, readWS(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "bogus"}))
	assert.Equal(t, WSTypeError, readWS(t, conn).Type)
}

func TestWebSocket_RequiresTicketWhenAuthEnabled(t *testing.T) {
	srv := testServer(t, withAuth)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	_, resp, err := dialWS(t, ts, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck // Test cleanup

	_, resp, err = dialWS(t, ts, "?ticket=unknown")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck // Test cleanup

	w := do(t, srv.buildRouter(), http.MethodPost, "/auth/ws-ticket", nil, mintToken(t, auth.RoleViewer))
	require.Equal(t, http.StatusOK, w.Code)
	ticket, _ := decode(t, w)["ticket"].(string)

	conn, resp, err := dialWS(t, ts, "?ticket="+ticket)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck // Test cleanup
	conn.Close()

	_, resp, err = dialWS(t, ts, "?ticket="+ticket)
	require.Error(t, err, "ticket must not be reusable")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck // Test cleanup
}

func TestHub_SlowClientDropsMessages(t *testing.T) {
	hub := NewHub(testDeps().WS, testLogger())
	slow := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{ChannelAllCommands: {}},
	}
	hub.Register(slow)

	hub.Broadcast("command.enqueued", nil)
	hub.Broadcast("command.dispatched", nil)
	hub.Broadcast("command.completed", nil)

	assert.Len(t, slow.send, 1)
	assert.Equal(t, uint64(2), hub.Dropped())
}

func TestHub_RunDisconnectsOnCancel(t *testing.T) {
	hub := NewHub(testDeps().WS, testLogger())
	client := newTestClient(hub, ChannelAllCommands)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Zero(t, hub.ClientCount())
	_, open := <-client.send
	assert.False(t, open)

	// A late Unregister from the read pump is a no-op.
	hub.Unregister(client)
}

func TestValidChannel(t *testing.T) {
	assert.True(t, validChannel(ChannelAllCommands))
	assert.True(t, validChannel("command.timed_out"))
	assert.False(t, validChannel("command.exploded"))
	assert.False(t, validChannel("queue.summary"))
	assert.False(t, validChannel("command."))
}

func TestWebSocket_RejectsUnknownChannels(t *testing.T) {
	srv := testServer(t, nil)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	conn, resp, err := dialWS(t, ts, "")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck // Test cleanup
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s",
		Payload: WSSubscribePayload{Channels: []string{"command.failed", "devices.*"}},
	}))
	ack := readWS(t, conn)
	require.Equal(t, WSTypeResponse, ack.Type)
	payload := ack.Payload.(map[string]any)
	assert.Equal(t, []any{"command.failed"}, payload["subscribed"])
	assert.Equal(t, []any{"devices.*"}, payload["rejected"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypeUnsubscribe, ID: "u"}))
	assert.Equal(t, WSTypeError, readWS(t, conn).Type)
}
