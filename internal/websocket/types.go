package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeProgress reports records processed during a run
	EventTypeProgress EventType = "progress"
	// EventTypeRunCompleted is sent once a run has finished
	EventTypeRunCompleted EventType = "run_completed"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RunID     string      `json:"run_id,omitempty"`

	// exclude is not sent this event
	exclude *Client
}

// ProgressEvent carries the progress of one anonymization run
type ProgressEvent struct {
	RunID   string  `json:"run_id"`
	Done    int     `json:"done"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// RunCompletedEvent summarizes a finished run. It never carries records
// or original values.
type RunCompletedEvent struct {
	RunID        string `json:"run_id"`
	Records      int    `json:"records"`
	Skipped      int    `json:"skipped"`
	Replacements int    `json:"replacements"`
	Collisions   int    `json:"collisions"`
	DurationMs   int64  `json:"duration_ms"`
	Cached       bool   `json:"cached"`
	Error        string `json:"error,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest narrows the events a client receives. An empty
// Events list means every event type; RunID limits run events to one run.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
	RunID  string      `json:"run_id,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.RWMutex
	subscription *SubscriptionRequest
}

func (c *Client) subscribe(req *SubscriptionRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscription = req
}

func (c *Client) wants(event Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sub := c.subscription
	if sub == nil {
		return true
	}
	if len(sub.Events) > 0 {
		subscribed := false
		for _, t := range sub.Events {
			if t == event.Type {
				subscribed = true
				break
			}
		}
		if !subscribed {
			return false
		}
	}
	if sub.RunID != "" && event.RunID != "" && sub.RunID != event.RunID {
		return false
	}
	return true
}
