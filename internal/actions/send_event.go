package actions

import (
	"context"
	"log/slog"

	"github.com/fsmhost/fsmhost/internal/ectx"
	"github.com/fsmhost/fsmhost/internal/eventbus"
)

// sendEvent implements send_event: queue an event in the persistent
// mailbox and fire a best-effort datagram to the target machine's
// inbound socket (spec.md §4.3, §6 inter-machine event frame).
type sendEvent struct{ deps *Deps }

// eventFrame is the inter-machine event frame wire format (spec.md §6).
type eventFrame struct {
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	JobID   *string        `json:"job_id"`
	Payload map[string]any `json:"payload"`
}

func (a *sendEvent) Execute(_ context.Context, cfg map[string]any, ec ectx.Context) (string, error) {
	target := cfgString(cfg, "target_machine", "")
	eventType := cfgString(cfg, "event_type", "")
	success := cfgString(cfg, "success", "event_sent")
	errEvent := cfgString(cfg, "error", "error")
	payload := cfgMap(cfg, "payload")

	var jobID *string
	if v, ok := ec.Get("job_id"); ok {
		if s, ok := v.(string); ok {
			jobID = &s
		}
	}

	if target == "" || eventType == "" {
		ec.Set("last_error", "send_event: target_machine and event_type are required")
		return errEvent, nil
	}

	if _, err := a.deps.Store.SendEvent(target, a.deps.MachineName, eventType, jobID, payload); err != nil {
		ec.Set("last_error", err.Error())
		return errEvent, err
	}

	socketPath := a.deps.Config.MachineSocketPath(target)
	frame := eventFrame{Type: eventType, Source: a.deps.MachineName, JobID: jobID, Payload: payload}
	if err := eventbus.Send(socketPath, frame); err != nil {
		slog.Default().Debug("send_event: datagram delivery failed, mailbox is authoritative", "target", target, "error", err)
	}

	return success, nil
}
