package web

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screenshare/backend/internal/capture"
	"github.com/screenshare/backend/internal/viewer"
)

type EventType string

const (
	EvSnapshot       EventType = "snapshot"
	EvViewerJoined   EventType = "viewer_joined"
	EvViewerLeft     EventType = "viewer_left"
	EvQualityChanged EventType = "quality_changed"
)

type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Viewers []*viewer.Session `json:"viewers"`
	Rate    capture.RateState `json:"rate"`
}

type ViewerPayload struct {
	Session *viewer.Session `json:"session"`
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newEventClient(conn *websocket.Conn) *eventClient {
	c := &eventClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *eventClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// trySend queues msg without blocking. Returns false when the client is
// closed or its buffer is full.
func (c *eventClient) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close is idempotent. The send channel is only ever closed under the
// client mutex, so a concurrent trySend can never hit a closed channel.
func (c *eventClient) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// EventHub pushes admission and viewer-registry changes to connected
// operator dashboards. Slow dashboards are dropped, never waited on.
type EventHub struct {
	mu       sync.RWMutex
	clients  map[*eventClient]bool
	registry *viewer.Registry
	rate     func() capture.RateState

	snapshotInterval time.Duration
}

func NewEventHub(registry *viewer.Registry, rate func() capture.RateState) *EventHub {
	return &EventHub{
		clients:          make(map[*eventClient]bool),
		registry:         registry,
		rate:             rate,
		snapshotInterval: 5 * time.Second,
	}
}

// Run broadcasts periodic registry snapshots until the channel feeding it
// closes with the process.
func (h *EventHub) Run(done <-chan struct{}) {
	ticker := time.NewTicker(h.snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if h.ClientCount() > 0 {
				h.broadcast(h.snapshotEvent())
			}
		}
	}
}

func (h *EventHub) snapshotEvent() Event {
	return Event{
		Type: EvSnapshot,
		Payload: SnapshotPayload{
			Viewers: h.registry.Snapshot(),
			Rate:    h.rate(),
		},
	}
}

func (h *EventHub) AddClient(conn *websocket.Conn) *eventClient {
	c := newEventClient(conn)

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	// Initial snapshot; a client that cannot take it immediately will get
	// the next periodic one.
	data, _ := json.Marshal(h.snapshotEvent())
	c.trySend(data)
	return c
}

func (h *EventHub) RemoveClient(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Notify broadcasts a single viewer lifecycle event.
func (h *EventHub) Notify(evType EventType, session *viewer.Session) {
	h.broadcast(Event{Type: evType, Payload: ViewerPayload{Session: session}})
}

func (h *EventHub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("events: marshal error: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(data) {
			log.Printf("events: client too slow, disconnecting")
			h.RemoveClient(c)
		}
	}
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
