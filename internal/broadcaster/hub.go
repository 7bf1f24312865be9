// Package broadcaster implements the WebSocket fan-out process (C7):
// a shared datagram receive endpoint feeding a hub that streams frames
// to every connected UI client (spec.md §4.5).
package broadcaster

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fsmhost/fsmhost/internal/store"
)

// sendTimeout bounds a single client send; a client that hasn't
// drained its buffer within this window is evicted (spec.md §4.5,
// §8 testable property 7).
const sendTimeout = 2 * time.Second

// pingInterval is how often the hub nudges each client with a
// `{"type":"ping"}` frame (spec.md §4.5).
const pingInterval = 10 * time.Second

// heartbeatStall is the watchdog's trip threshold: if the fan-out loop
// hasn't completed a cycle within this window, something is wedged
// and the diagnostic dump fires (spec.md §4.5).
const heartbeatStall = 15 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connected WebSocket subscriber. send is buffered so
// the hub's fan-out loop never blocks on a slow reader directly; the
// per-client writer goroutine owns the actual blocking write.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the registered client set and the single goroutine that
// fans datagrams out to them. Grounded on the register/unregister/
// broadcast channel triad found in the retrieval pack's WebSocket hub,
// but with serialization pulled out of the per-client loop: JSON
// marshal happens once per frame, before any client send is attempted
// (spec.md §4.5 "Critical" invariant, §8 testable property 6).
type Hub struct {
	store *store.Store
	log   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	inbound    chan []byte
	register   chan *client
	unregister chan *client

	// lastHeartbeatNano is a Unix nanosecond timestamp, updated by Run
	// every time it completes a fan-out cycle and read by the watchdog
	// goroutine; an atomic avoids taking mu just to check liveness.
	lastHeartbeatNano atomic.Int64
}

// NewHub constructs a Hub. st is used to build the initial snapshot
// sent to each newly connected client (spec.md §4.5 "On each client
// accept").
func NewHub(st *store.Store) *Hub {
	h := &Hub{
		store:      st,
		log:        slog.Default().With("component", "broadcaster"),
		clients:    make(map[*client]struct{}),
		inbound:    make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
	h.lastHeartbeatNano.Store(time.Now().UnixNano())
	return h
}

// Run drives the fan-out loop and the watchdog until done is closed.
// The loop records a heartbeat on every iteration, not only when a
// frame arrives, so an idle (traffic-free) hub never trips its own
// watchdog (spec.md §4.5: "last time the event loop completed a
// heartbeat").
func (h *Hub) Run(done <-chan struct{}) {
	go h.watchdog(done)

	idle := time.NewTicker(2 * time.Second)
	defer idle.Stop()

	for {
		select {
		case <-done:
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("client connected", "clients", h.clientCount())

		case c := <-h.unregister:
			h.removeClient(c)

		case raw := <-h.inbound:
			// raw is already serialized JSON bytes: the datagram
			// receiver (listener.go) passes them through undecoded and
			// nothing re-marshals them before this point.
			h.fanOut(raw)

		case <-idle.C:
		}
		h.lastHeartbeatNano.Store(time.Now().UnixNano())
	}
}

// Push enqueues a pre-serialized frame for fan-out. Called by the
// datagram receiver goroutine (listener.go) for every accepted
// datagram; never blocks longer than the inbound channel's buffer
// allows, matching the "producer never blocks on a slow consumer"
// policy of the rest of this system's event fabric.
func (h *Hub) Push(raw []byte) {
	select {
	case h.inbound <- raw:
	default:
		h.log.Warn("broadcaster inbound buffer full, dropping frame")
	}
}

// fanOut writes raw to every registered client's send buffer. raw is
// already serialized: no json.Marshal call occurs between here and
// any client's blocking write, satisfying the non-blocking-JSON
// invariant (spec.md §4.5, §8 property 6).
func (h *Hub) fanOut(raw []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- raw:
		default:
			h.log.Warn("client send buffer full, evicting")
			h.removeClient(c)
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// initialFrame builds the snapshot sent to a newly connected client
// (spec.md §6 WebSocket surface: "server sends {"type":"initial", ...}").
func (h *Hub) initialFrame() ([]byte, error) {
	states, err := h.store.ListMachineStates()
	if err != nil {
		return nil, err
	}
	machines := make([]map[string]any, 0, len(states))
	for _, s := range states {
		machines = append(machines, map[string]any{
			"machine_name":  s.MachineName,
			"config_type":   s.ConfigType,
			"current_state": s.CurrentState,
			"pid":           s.PID,
		})
	}
	return json.Marshal(map[string]any{
		"type":      "initial",
		"machines":  machines,
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
	})
}
