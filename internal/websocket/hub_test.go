package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/chat-anonymizer/internal/logger"
)

type progressMessage struct {
	Type  EventType     `json:"type"`
	RunID string        `json:"run_id"`
	Data  ProgressEvent `json:"data"`
}

func startHub(t *testing.T, config HubConfig) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(config, logger.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	before := hub.GetStats().TotalConnections
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetStats().TotalConnections == before {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readProgress(t *testing.T, conn *websocket.Conn) progressMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg progressMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestHubBroadcastsProgress(t *testing.T) {
	hub, url := startHub(t, HubConfig{BroadcastProgress: true})
	conn := dial(t, hub, url)

	hub.Reporter("run-1").Progress(25, 100)

	msg := readProgress(t, conn)
	if msg.Type != EventTypeProgress || msg.RunID != "run-1" {
		t.Fatalf("unexpected event: %+v", msg)
	}
	if msg.Data.Done != 25 || msg.Data.Total != 100 || msg.Data.Percent != 25 {
		t.Errorf("unexpected progress: %+v", msg.Data)
	}
}

func TestHubRespectsBroadcastConfig(t *testing.T) {
	hub, url := startHub(t, HubConfig{BroadcastProgress: true})
	conn := dial(t, hub, url)

	// run events are disabled and never reach the client
	hub.RunCompleted(RunCompletedEvent{RunID: "run-1", Records: 3})
	hub.Reporter("run-1").Progress(0, 0)

	msg := readProgress(t, conn)
	if msg.Type != EventTypeProgress {
		t.Fatalf("disabled event type was delivered: %+v", msg)
	}
	if msg.Data.Percent != 100 {
		t.Errorf("empty run should report 100%%, got %v", msg.Data.Percent)
	}
}

func TestHubSubscription(t *testing.T) {
	hub, url := startHub(t, HubConfig{BroadcastProgress: true, BroadcastRuns: true})
	conn := dial(t, hub, url)

	if err := conn.WriteJSON(ClientMessage{
		Type: "subscribe",
		Data: &SubscriptionRequest{Events: []EventType{EventTypeProgress}, RunID: "run-2"},
	}); err != nil {
		t.Fatal(err)
	}
	// the pong proves the subscription has been applied
	if err := conn.WriteJSON(ClientMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	if msg := readProgress(t, conn); msg.Type != EventTypePong {
		t.Fatalf("expected pong, got %+v", msg)
	}

	hub.Reporter("run-1").Progress(1, 2)
	hub.RunCompleted(RunCompletedEvent{RunID: "run-2"})
	hub.Reporter("run-2").Progress(2, 2)

	msg := readProgress(t, conn)
	if msg.Type != EventTypeProgress || msg.RunID != "run-2" {
		t.Errorf("subscription filter not applied: %+v", msg)
	}
}

func TestHubConnectionEvents(t *testing.T) {
	hub, url := startHub(t, HubConfig{BroadcastConnections: true})
	first := dial(t, hub, url)
	dial(t, hub, url)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type EventType       `json:"type"`
		Data ConnectionEvent `json:"data"`
	}
	if err := first.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != EventTypeConnection || msg.Data.Action != "connected" || msg.Data.ClientID != "client_2" {
		t.Errorf("unexpected connection event: %+v", msg)
	}

	if got := hub.GetStats().ActiveConnections; got != 2 {
		t.Errorf("active connections = %d, want 2", got)
	}
}

func TestHubMaxConnections(t *testing.T) {
	hub, url := startHub(t, HubConfig{MaxConnections: 1})
	dial(t, hub, url)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second connection should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", resp)
	}
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(HubConfig{AllowedOrigins: []string{"https://ops.example.com"}}, nil)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !hub.checkOrigin(r) {
		t.Error("requests without Origin should pass")
	}
	r.Header.Set("Origin", "https://ops.example.com")
	if !hub.checkOrigin(r) {
		t.Error("allowed origin rejected")
	}
	r.Header.Set("Origin", "https://evil.example.com")
	if hub.checkOrigin(r) {
		t.Error("foreign origin accepted")
	}
}
