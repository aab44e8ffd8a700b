// Package statsfeed streams the middleware's statistics block to
// connected clients over a websocket, so a dashboard can show live
// session/rotation health without polling an HTTP endpoint.
package statsfeed

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one message pushed to subscribers.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StatsSource supplies the statistics snapshot to push. Implemented by
// *middleware.Middleware (its Stats() return value, boxed as
// interface{}).
type StatsSource interface {
	Stats() interface{}
}

// Hub fans events out to every connected websocket client.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]chan Event
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]chan Event)}
}

// Register adds a connection and returns the channel its writer goroutine
// should drain.
func (h *Hub) Register(conn *websocket.Conn) chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()
	return ch
}

// Unregister removes a connection and closes its channel.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.conns[conn]; ok {
		close(ch)
		delete(h.conns, conn)
	}
}

// Broadcast sends an event to every connected client, dropping it for any
// client whose buffer is full rather than blocking the broadcaster.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.conns {
		select {
		case ch <- event:
		default:
		}
	}
}

// ConnectionCount reports how many clients are currently connected.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Feed owns the websocket upgrade endpoint and the periodic stats push.
type Feed struct {
	source   StatsSource
	hub      *Hub
	upgrader websocket.Upgrader
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFeed builds a Feed that pushes a stats snapshot every interval.
// The upgrader sets no CheckOrigin, so gorilla/websocket's default
// same-origin check applies; this package has no dashboard of its own
// with an origin allowlist.
func NewFeed(source StatsSource, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Feed{
		source: source,
		hub:    NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic broadcast loop in a background goroutine.
func (f *Feed) Start() {
	go f.broadcastLoop()
}

// Stop ends the periodic broadcast loop.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func (f *Feed) broadcastLoop() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.hub.Broadcast(Event{
				Type:      "stats",
				Timestamp: time.Now(),
				Data:      f.source.Stats(),
			})
		}
	}
}

// ServeHTTP upgrades the connection and streams stats events to it until
// the client disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := f.hub.Register(conn)
	defer f.hub.Unregister(conn)

	initial := Event{Type: "stats", Timestamp: time.Now(), Data: f.source.Stats()}
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range ch {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	<-done
}
