package events

import (
	"encoding/json"
	"time"
)

// Event names
const (
	LinkState       = "link.state"
	GeneratorState  = "generator.state"
	GeneratorAbort  = "generator.abort"
	ScheduleTrigger = "schedule.trigger"
)

// Event is a generic SSE event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // raw JSON payload
	Time time.Time
}

// LinkStateEvent is the payload for link.state.
type LinkStateEvent struct {
	Device string `json:"device"`
	Port   string `json:"port"`
	Open   bool   `json:"open"`
}

// GeneratorStateEvent is the payload for generator.state.
type GeneratorStateEvent struct {
	Kind    string `json:"kind"`
	Running bool   `json:"running"`
	Reason  string `json:"reason,omitempty"`
}

// GeneratorAbortEvent is the payload for generator.abort.
type GeneratorAbortEvent struct {
	Kind  string `json:"kind"`
	Ticks int    `json:"ticks"`
}

// ScheduleTriggerEvent is the payload for schedule.trigger.
type ScheduleTriggerEvent struct {
	Kind    string `json:"kind"`
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`
}

// DecodeAs unmarshals the event payload into T. Empty data gives the zero
// value of T and a nil error.
//
//	payload, err := events.DecodeAs[events.LinkStateEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
