// Package eventbus implements the connectionless datagram fabric
// (spec.md §4.3 C3): JSON frames sent fire-and-forget over Unix
// domain datagram sockets, one shared socket for the Broadcaster and
// one inbound socket per running machine.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// sendTimeout bounds how long a single fire-and-forget send may block.
const sendTimeout = 2 * time.Second

// Send marshals v to JSON and writes it as a single datagram to the
// Unix domain socket at path. It is fire-and-forget: failures (no
// listener, full buffer, timeout) are returned to the caller but never
// panic and never block past sendTimeout. Callers on the hot path
// should treat a non-nil error as best-effort and continue (spec.md §7
// TransportError policy).
func Send(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("eventbus: marshal: %w", err)
	}

	conn, err := net.DialTimeout("unixgram", path, sendTimeout)
	if err != nil {
		return fmt.Errorf("eventbus: dial %s: %w", path, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return fmt.Errorf("eventbus: set deadline: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("eventbus: write %s: %w", path, err)
	}
	return nil
}

// SendBestEffort calls Send and logs (rather than returns) any error.
// Used by callers for whom a broadcast failure must never interrupt
// the primary operation (e.g. the engine emitting a realtime frame
// after a state transition).
func SendBestEffort(path string, v any) {
	if err := Send(path, v); err != nil {
		slog.Default().Debug("eventbus: best-effort send failed", "path", path, "error", err)
	}
}

// Endpoint is a bound Unix datagram receive socket, owned by exactly
// one goroutine (the owner's receive loop).
type Endpoint struct {
	conn *net.UnixConn
	path string
}

// Listen removes any stale socket file at path and binds a fresh Unix
// datagram listener there. Per spec.md §6, per-machine inbound sockets
// and the shared broadcaster socket are both recreated on startup.
func Listen(path string) (*Endpoint, error) {
	_ = os.Remove(path) // best-effort: stale socket from a prior crash

	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, fmt.Errorf("eventbus: resolve %s: %w", path, err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("eventbus: listen %s: %w", path, err)
	}
	return &Endpoint{conn: conn, path: path}, nil
}

// Close closes the socket and removes the backing file.
func (e *Endpoint) Close() error {
	err := e.conn.Close()
	_ = os.Remove(e.path)
	return err
}

// ReceiveRaw reads one datagram into buf, blocking until a frame
// arrives or ctx-equivalent deadline elapses. Pass deadline zero for
// no deadline (the usual case in a dedicated receive goroutine).
func (e *Endpoint) ReceiveRaw(buf []byte, deadline time.Time) (int, error) {
	if !deadline.IsZero() {
		if err := e.conn.SetReadDeadline(deadline); err != nil {
			return 0, err
		}
	}
	n, err := e.conn.Read(buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Loop runs handler for every datagram received until ctxDone is
// closed or the socket errors out (typically because Close was
// called). Loop does not parse frames: each datagram is copied and
// handed to handler as raw bytes, and any decoding (and dropping of
// malformed frames) is the handler's job.
func (e *Endpoint) Loop(ctxDone <-chan struct{}, handler func(raw []byte)) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctxDone:
			return
		default:
		}

		if err := e.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond)); err != nil {
			return
		}
		n, err := e.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return // socket closed or fatal
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		handler(frame)
	}
}
