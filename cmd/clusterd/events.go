package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/clusterd/internal/cluster"
	"github.com/dreamware/clusterd/internal/coordinator"
	"github.com/dreamware/clusterd/internal/store"
)

// EventType identifies a message on the /cluster/events stream.
type EventType string

const (
	SnapshotEvent     EventType = "snapshot"
	SwitchFailedEvent EventType = "switch_failed"
)

// Event is one message on the /cluster/events stream.
type Event struct {
	Type     EventType       `json:"type"`
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
	Failure  *FailureEvent   `json:"failure,omitempty"`
}

// FailureEvent describes a failed switch attempt.
type FailureEvent struct {
	RequestID string           `json:"request_id"`
	Target    cluster.Endpoint `json:"target"`
	Trigger   cluster.Trigger  `json:"trigger"`
	Error     string           `json:"error"`
	FailedAt  time.Time        `json:"failed_at"`
}

// maxPendingFailures bounds the failure events queued for one client.
const maxPendingFailures = 16

// eventClient is one WebSocket subscriber. Snapshots are not queued: only
// the latest one is kept, so a slow client skips intermediate states but
// always ends on the current one.
type eventClient struct {
	conn     *websocket.Conn
	wake     chan struct{}
	done     chan struct{}
	latest   store.Snapshot
	failures []FailureEvent
	pending  bool
	mu       sync.Mutex
}

func (c *eventClient) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// take returns what is waiting to be written and clears it.
func (c *eventClient) take() (*store.Snapshot, []FailureEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var snap *store.Snapshot
	if c.pending {
		s := c.latest
		snap = &s
		c.pending = false
	}
	failures := c.failures
	c.failures = nil
	return snap, failures
}

// eventHub fans store commits and switch failures out to WebSocket clients.
type eventHub struct {
	upgrader    websocket.Upgrader
	store       *store.Store
	clients     map[*eventClient]struct{}
	unsubscribe func()
	mu          sync.Mutex
}

func newEventHub(st *store.Store) *eventHub {
	h := &eventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		store:   st,
		clients: map[*eventClient]struct{}{},
	}
	h.unsubscribe = st.Subscribe(h.publishSnapshot)
	return h
}

// publishSnapshot runs inside store notifications and never blocks.
func (h *eventHub) publishSnapshot(snap store.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.mu.Lock()
		c.latest = snap
		c.pending = true
		c.mu.Unlock()
		c.signal()
	}
}

// publishFailure queues a one-shot failure event for every client.
func (h *eventHub) publishFailure(f coordinator.SwitchFailure) {
	ev := FailureEvent{
		RequestID: f.Request.ID,
		Target:    f.Request.Target,
		Trigger:   f.Request.Trigger,
		Error:     f.Err.Error(),
		FailedAt:  f.FailedAt,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.mu.Lock()
		if len(c.failures) >= maxPendingFailures {
			log.Printf("events: client queue full, dropping failure %s", c.failures[0].RequestID)
			c.failures = c.failures[1:]
		}
		c.failures = append(c.failures, ev)
		c.mu.Unlock()
		c.signal()
	}
}

// Clients returns the number of connected subscribers.
func (h *eventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *eventHub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events: upgrade failed: %v", err)
		return
	}

	c := &eventClient{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	// Registered under the hub lock so no commit slips between the initial
	// snapshot and the first notification.
	h.mu.Lock()
	c.latest = h.store.Current()
	c.pending = true
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	c.signal()

	log.Printf("events: subscriber connected from %s", r.RemoteAddr)
	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop discards client messages and detects disconnects.
func (h *eventHub) readLoop(c *eventClient) {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *eventHub) writeLoop(c *eventClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = c.conn.Close()
		log.Println("events: subscriber disconnected")
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			snap, failures := c.take()
			if snap != nil {
				if err := c.conn.WriteJSON(Event{Type: SnapshotEvent, Snapshot: snap}); err != nil {
					return
				}
			}
			for i := range failures {
				if err := c.conn.WriteJSON(Event{Type: SwitchFailedEvent, Failure: &failures[i]}); err != nil {
					return
				}
			}
		}
	}
}

// close stops listening to the store and disconnects every client.
func (h *eventHub) close() {
	h.unsubscribe()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}
