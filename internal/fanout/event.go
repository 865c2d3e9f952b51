// Package fanout buffers tracking calls accepted by the dispatcher and fans
// them out in batches to downstream sinks such as logs, Prometheus, Pub/Sub
// and the blob archive.
package fanout

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/engagement-tracker/internal/dispatcher"
)

// Event is one accepted sink call.
type Event struct {
	// ID uniquely identifies the event (UUID v7).
	ID string `json:"id"`
	// TS is the UTC time the hub accepted the event.
	TS time.Time `json:"ts"`
	// Command is the sink command: event, config or consent.
	Command string `json:"command"`
	// Name is the event name, config target or consent action.
	Name string `json:"name"`
	// Params is the cleaned parameter map.
	Params map[string]any `json:"params,omitempty"`
	// Trace carries the propagated trace context of the sending call, if any.
	Trace map[string]string `json:"trace,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch dispatcher.Command(e.Command) {
	case dispatcher.CommandEvent, dispatcher.CommandConfig, dispatcher.CommandConsent:
	default:
		return fmt.Errorf("unknown command %q", e.Command)
	}
	if e.Name == "" {
		return errors.New("name is required")
	}
	return nil
}
