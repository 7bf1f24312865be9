package broadcaster

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// HandleWS upgrades the request and registers the connection with the
// hub. One writer goroutine owns conn.WriteMessage exclusively (gorilla
// forbids concurrent writers); one reader goroutine drains client
// frames (pong, refresh) until the socket closes (spec.md §6 WebSocket
// surface).
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}

	select {
	case h.register <- c:
	case <-time.After(sendTimeout):
		// Run isn't draining register (shutting down); don't block the
		// HTTP handler forever.
		conn.Close()
		return
	}

	if initial, err := h.initialFrame(); err == nil {
		select {
		case c.send <- initial:
		default:
		}
	} else {
		h.log.Warn("building initial snapshot failed", "error", err)
	}

	go h.writeLoop(c)
	h.readLoop(c)
}

// writeLoop is the sole writer on conn: it drains c.send (closed by
// the hub on eviction) and ticks a ping every pingInterval. Each write
// gets its own deadline so a stalled reader is evicted within
// sendTimeout rather than wedging this goroutine forever (spec.md §4.5,
// §8 property 7).
//
// On a write error this goroutine only closes conn and returns: it
// never calls removeClient itself. removeClient closes c.send, and
// fanOut (hub.go) sends on c.send from the Run goroutine without
// holding mu — closing it from here as well would race fanOut's send
// and panic. Closing conn makes readLoop's blocking read fail, and
// readLoop's own deferred `h.unregister <- c` is the only path that
// removes this client, keeping Run the sole closer of c.send.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := h.writeWithDeadline(c, websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			ping, _ := json.Marshal(map[string]string{"type": "ping"})
			if err := h.writeWithDeadline(c, websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeWithDeadline(c *client, messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// readLoop drains client-sent frames: pong (keepalive ack, handled
// transparently by gorilla's pong handler below) and refresh (request
// a fresh initial snapshot, spec.md §6). It never tears a connection
// down solely for a missed pong — only a read error (closed socket,
// protocol violation) ends the loop.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister <- c
	}()

	c.conn.SetPongHandler(func(string) error { return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "refresh" {
			if initial, err := h.initialFrame(); err == nil {
				select {
				case c.send <- initial:
				default:
				}
			}
		}
	}
}
