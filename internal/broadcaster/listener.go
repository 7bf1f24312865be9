package broadcaster

import (
	"github.com/fsmhost/fsmhost/internal/eventbus"
)

// ListenDatagrams binds the shared producer-facing socket and pushes
// every accepted datagram straight onto the hub's inbound channel,
// unparsed: the hub fans bytes out verbatim and must never re-marshal
// them (spec.md §4.5). Returns the bound endpoint so the caller can
// Close it on shutdown.
func ListenDatagrams(socketPath string, h *Hub, done <-chan struct{}) (*eventbus.Endpoint, error) {
	ep, err := eventbus.Listen(socketPath)
	if err != nil {
		return nil, err
	}
	go ep.Loop(done, h.Push)
	return ep, nil
}
