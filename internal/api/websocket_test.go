package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialWS connects a test WebSocket client to the server's router.
func dialWS(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

// readMessage reads one JSON message with a deadline.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	resp := readMessage(t, conn)
	if resp.Type != WSTypeResponse {
		t.Fatalf("subscribe response type = %q", resp.Type)
	}
}

func TestWebSocketSubscribeAndBroadcast(t *testing.T) {
	srv, _, _, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	subscribe(t, conn, ChannelTelemetry)

	// Wait for registration before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	srv.hub.Broadcast(ChannelTelemetry, map[string]any{"device_id": "dev-1"})

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent {
		t.Errorf("type = %q, want event", msg.Type)
	}
	if msg.EventType != ChannelTelemetry {
		t.Errorf("event_type = %q", msg.EventType)
	}

	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	if payload["device_id"] != "dev-1" {
		t.Errorf("device_id = %v", payload["device_id"])
	}
}

func TestWebSocketUnsubscribedChannelFiltered(t *testing.T) {
	srv, _, _, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	subscribe(t, conn, ChannelDeviceStatus)

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Not subscribed to telemetry; only the status event should arrive.
	srv.hub.Broadcast(ChannelTelemetry, map[string]any{"device_id": "dev-1"})
	srv.hub.Broadcast(ChannelDeviceStatus, map[string]any{"device_id": "dev-2"})

	msg := readMessage(t, conn)
	if msg.EventType != ChannelDeviceStatus {
		t.Errorf("event_type = %q, want %q", msg.EventType, ChannelDeviceStatus)
	}
}

func TestWebSocketPing(t *testing.T) {
	srv, _, _, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypePong {
		t.Errorf("type = %q, want pong", msg.Type)
	}
	if msg.ID != "p1" {
		t.Errorf("id = %q, want p1", msg.ID)
	}
}

func TestWebSocketInvalidMessage(t *testing.T) {
	srv, _, _, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypeError {
		t.Errorf("type = %q, want error", msg.Type)
	}
}

func TestHubUnregisterIdempotent(t *testing.T) {
	srv, _, _, _ := testServer(t)

	client := &WSClient{
		hub:           srv.hub,
		send:          make(chan []byte, 1),
		subscriptions: make(map[string]struct{}),
	}
	srv.hub.Register(client)
	srv.hub.Unregister(client)
	srv.hub.Unregister(client) // must not double-close the send channel
}

func TestBroadcastMarshal(t *testing.T) {
	srv, _, _, _ := testServer(t)

	client := &WSClient{
		hub:           srv.hub,
		send:          make(chan []byte, 4),
		subscriptions: map[string]struct{}{ChannelTelemetry: {}},
	}
	srv.hub.Register(client)
	defer srv.hub.Unregister(client)

	srv.hub.Broadcast(ChannelTelemetry, map[string]any{"device_id": "dev-3"})

	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("broadcast not valid JSON: %v", err)
		}
		if msg.EventType != ChannelTelemetry {
			t.Errorf("event_type = %q", msg.EventType)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}
