package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/screenshare/backend/internal/capture"
	"github.com/screenshare/backend/internal/frame"
	"github.com/screenshare/backend/internal/viewer"
)

func dialEvents(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestEventHubSnapshotOnConnect(t *testing.T) {
	registry := viewer.NewRegistry()
	registry.Add(&viewer.Session{ID: "sess-1", Quality: frame.Medium})

	hub := NewEventHub(registry, func() capture.RateState {
		return capture.RateState{ActiveViewers: 1, CurrentFPS: 20}
	})
	server := &Server{registry: registry, events: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.handleWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialEvents(t, srv)
	ev := readEvent(t, conn)
	require.Equal(t, EvSnapshot, ev.Type)

	payload, err := json.Marshal(ev.Payload)
	require.NoError(t, err)
	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(payload, &snap))
	require.Len(t, snap.Viewers, 1)
	require.Equal(t, 20, snap.Rate.CurrentFPS)
}

func TestEventHubNotify(t *testing.T) {
	registry := viewer.NewRegistry()
	hub := NewEventHub(registry, func() capture.RateState { return capture.RateState{} })
	server := &Server{registry: registry, events: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.handleWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialEvents(t, srv)
	_ = readEvent(t, conn) // initial snapshot

	waitForCond(t, func() bool { return hub.ClientCount() == 1 })
	hub.Notify(EvViewerJoined, &viewer.Session{ID: "sess-2"})

	ev := readEvent(t, conn)
	require.Equal(t, EvViewerJoined, ev.Type)
}

// A stalled dashboard hit by several broadcasts at once used to race: one
// broadcast removed the client and closed its channel while another was
// still sending into it, panicking the whole process. Every broadcast must
// take the slow-client path safely.
func TestBroadcastConcurrentRemovalOfSlowClient(t *testing.T) {
	registry := viewer.NewRegistry()
	hub := NewEventHub(registry, func() capture.RateState { return capture.RateState{} })

	for round := 0; round < 100; round++ {
		c := &eventClient{send: make(chan []byte, 1)}
		c.send <- []byte("stall") // full buffer: every send takes the slow path
		hub.mu.Lock()
		hub.clients[c] = true
		hub.mu.Unlock()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.Notify(EvViewerJoined, &viewer.Session{ID: "slow"})
			}()
		}
		wg.Wait()

		if got := hub.ClientCount(); got != 0 {
			t.Fatalf("round %d: ClientCount = %d, want 0", round, got)
		}
	}
}
