package actions

import (
	"context"
	"encoding/json"

	"github.com/fsmhost/fsmhost/internal/ectx"
)

// checkEvents implements check_events: query the mailbox for the
// first unconsumed event matching event_types, exposing it as
// event_data and returning the event's own type as the result event
// so transitions can key on it directly (spec.md §4.3).
type checkEvents struct{ deps *Deps }

func (a *checkEvents) Execute(_ context.Context, cfg map[string]any, ec ectx.Context) (string, error) {
	types := cfgStringList(cfg, "event_types")
	noEvents := cfgString(cfg, "no_events", "no_events")
	consume := cfgBool(cfg, "consume", true)

	events, err := a.deps.Store.GetPendingEvents(a.deps.MachineName, types)
	if err != nil {
		return noEvents, err
	}
	if len(events) == 0 {
		return noEvents, nil
	}

	event := events[0]
	payload := any(event.Payload)
	if event.Payload == nil {
		payload = map[string]any{}
	}

	ec.Set("event_data", map[string]any{
		"type":    event.EventType,
		"source":  event.Source,
		"job_id":  event.JobID,
		"payload": maybeParsePayload(payload),
	})

	if consume {
		if err := a.deps.Store.MarkConsumed(event.ID); err != nil {
			return noEvents, err
		}
	}

	return event.EventType, nil
}

// maybeParsePayload auto-parses a payload that arrived as a
// JSON-encoded string into an object, leaving already-decoded objects
// untouched (spec.md §6: "Payloads are either already an object or a
// JSON-encoded string; receivers auto-parse strings ... once").
func maybeParsePayload(payload any) any {
	s, ok := payload.(string)
	if !ok {
		return payload
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return payload // not valid JSON, leave as-is
	}
	return decoded
}
