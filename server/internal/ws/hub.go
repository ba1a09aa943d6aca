package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/presencewatch/presencewatch/pkg/types"
	"github.com/presencewatch/presencewatch/server/internal/api"
	"github.com/presencewatch/presencewatch/server/internal/store"
)

// Event names carried in Message.Event.
const (
	EventSnapshot   = "snapshot"
	EventTransition = "transition"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS handler wrapping the server.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Transition is the data of a "transition" event.
type Transition struct {
	TargetID  string    `json:"target_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	RTTMs     float64   `json:"rtt_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans presence updates out to dashboard connections: the whole snapshot
// on every tick, and individual transitions as they are received.
type Hub struct {
	store    *store.Store
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New returns a Hub that snapshots st every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts snapshots until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-tick.C:
			h.publish(Message{Event: EventSnapshot, Data: api.BuildSnapshot(h.store)})
		}
	}
}

// Notify pushes a transition event when obs changed its target's presence.
// It satisfies the receiver's sink contract.
func (h *Hub) Notify(obs *types.Observation) {
	if !obs.Changed {
		return
	}
	h.publish(Message{
		Event: EventTransition,
		Data: Transition{
			TargetID:  obs.TargetID,
			From:      obs.PreviousState,
			To:        obs.State,
			RTTMs:     obs.RTTMs,
			Timestamp: obs.Timestamp,
		},
	})
}

// ServeHTTP upgrades the request and streams events to it until the client
// disconnects. The current snapshot is always the first message.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(conn)
	if first, err := encode(Message{Event: EventSnapshot, Data: api.BuildSnapshot(h.store)}); err == nil {
		c.offer(first)
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer h.drop(c)

	go c.write()
	c.read()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// publish offers m to every client under the read lock, so no queue can be
// closed while being written. Clients that cannot keep up are dropped.
func (h *Hub) publish(m Message) {
	data, err := encode(m)
	if err != nil {
		slog.Error("ws: encode message", "event", m.Event, "err", err)
		return
	}

	var lagging []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.offer(data) {
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range lagging {
		slog.Debug("ws: dropping slow client")
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.out)
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.out)
	}
}
