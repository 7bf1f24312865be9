package broadcaster

import (
	"runtime"
	"time"
)

// watchdog is a dedicated goroutine observing Run's heartbeat,
// generalized from the teacher's connwatch package (there, a Watcher
// polls an external service's reachability; here it polls the hub's
// own liveness). A stall longer than heartbeatStall dumps every
// goroutine's stack as a diagnostic aid (spec.md §4.5).
func (h *Hub) watchdog(done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatStall / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			last := time.Unix(0, h.lastHeartbeatNano.Load())
			if stall := time.Since(last); stall > heartbeatStall {
				h.dumpStacks(stall)
			}
		}
	}
}

func (h *Hub) dumpStacks(stall time.Duration) {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	h.log.Error("broadcaster heartbeat stalled", "stall", stall, "stacks", string(buf[:n]))
}
