package eventbus

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

type testFrame struct {
	Type        string `json:"type"`
	MachineName string `json:"machine_name"`
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sock")

	ep, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ep.Close()

	done := make(chan struct{})
	received := make(chan testFrame, 1)

	go ep.Loop(done, func(raw []byte) {
		var f testFrame
		if err := json.Unmarshal(raw, &f); err == nil {
			received <- f
		}
	})

	if err := Send(path, testFrame{Type: "state_change", MachineName: "w1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != "state_change" || got.MachineName != "w1" {
			t.Errorf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	close(done)
}

func TestSendNoListenerReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nobody-here.sock")
	if err := Send(path, testFrame{Type: "ping"}); err == nil {
		t.Fatal("Send() error = nil, want error when no listener is bound")
	}
}

func TestListenRecreatesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")

	ep1, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen (first): %v", err)
	}
	// Simulate a crash: the socket file is left behind without Close.

	ep2, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen (second, should recreate stale socket): %v", err)
	}
	ep1.conn.Close() // first listener's fd is now orphaned
	defer ep2.Close()
}
