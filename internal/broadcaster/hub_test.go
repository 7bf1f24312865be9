package broadcaster

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fsmhost/fsmhost/internal/eventbus"
	"github.com/fsmhost/fsmhost/internal/store"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server, func()) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	h := NewHub(st)
	done := make(chan struct{})
	go h.Run(done)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", h.HandleWS)
	srv := httptest.NewServer(mux)

	cleanup := func() {
		close(done)
		srv.Close()
		st.Close()
	}
	return h, srv, cleanup
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// spec.md §6: on connect, the server sends an "initial" frame before
// anything else.
func TestClientReceivesInitialFrameOnConnect(t *testing.T) {
	_, srv, cleanup := newTestHub(t)
	defer cleanup()

	conn := dialWS(t, srv)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal initial frame: %v", err)
	}
	if frame["type"] != "initial" {
		t.Errorf("frame type = %v, want initial", frame["type"])
	}
}

// spec.md §8 testable property 7: every frame accepted at the
// datagram endpoint reaches every connected client.
func TestFanOutDeliversToAllClients(t *testing.T) {
	h, srv, cleanup := newTestHub(t)
	defer cleanup()

	socketPath := filepath.Join(t.TempDir(), "events.sock")
	done := make(chan struct{})
	ep, err := ListenDatagrams(socketPath, h, done)
	if err != nil {
		t.Fatalf("ListenDatagrams: %v", err)
	}
	defer func() { close(done); ep.Close() }()

	conn1 := dialWS(t, srv)
	defer conn1.Close()
	conn2 := dialWS(t, srv)
	defer conn2.Close()

	drainInitial(t, conn1)
	drainInitial(t, conn2)

	if err := eventbus.Send(socketPath, map[string]any{"type": "log", "machine_name": "w1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if frame["type"] != "log" {
			t.Errorf("frame type = %v, want log", frame["type"])
		}
	}
}

// spec.md §4.5 "Critical" invariant and §8 testable property 6: the
// hub never calls json.Marshal on a per-client basis. fanOut must
// forward the exact byte slice it was given, never re-encoding it.
// This is a white-box assertion on fanOut's contract rather than a
// runtime trace, since Go has no portable way to intercept calls to
// encoding/json from a black-box test.
func TestFanOutForwardsRawBytesWithoutReserializing(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	h := NewHub(st)
	c := &client{conn: nil, send: make(chan []byte, 1)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	raw := []byte(`{"type":"log","machine_name":"w1","weird_float":0.1000000000000000055511151231257827021181583404541015625}`)
	h.fanOut(raw)

	got := <-c.send
	if string(got) != string(raw) {
		t.Errorf("fanOut mutated the frame: got %s, want %s (a re-marshal would normalize the float literal)", got, raw)
	}
}

func TestRefreshRequestsFreshSnapshot(t *testing.T) {
	_, srv, cleanup := newTestHub(t)
	defer cleanup()

	conn := dialWS(t, srv)
	defer conn.Close()
	drainInitial(t, conn)

	if err := conn.WriteJSON(map[string]string{"type": "refresh"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame["type"] != "initial" {
		t.Errorf("frame type = %v, want initial (from refresh)", frame["type"])
	}
}

func drainInitial(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("drain initial frame: %v", err)
	}
}
