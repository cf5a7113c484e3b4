package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// VersionAny registers a handler for every version of an event.
const VersionAny = 0

// HandlerFunc processes one validated event. Handlers must be idempotent under
// re-delivery and tolerant of out-of-order arrival.
type HandlerFunc func(ctx context.Context, eventName string, eventVersion int, data json.RawMessage) error

type registration struct {
	version int
	handler HandlerFunc
}

// Dispatcher routes events to handlers registered for (name, VersionAny) plus
// (name, version), invoking matches sequentially in registration order. It is
// an explicit value built at startup; nothing registers after the consume loop
// begins.
type Dispatcher struct {
	registrations map[string][]registration
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{registrations: make(map[string][]registration)}
}

// Register stores a handler for the event name and version (VersionAny matches
// all versions).
func (d *Dispatcher) Register(eventName string, version int, handler HandlerFunc) {
	if handler == nil {
		return
	}
	d.registrations[eventName] = append(d.registrations[eventName], registration{
		version: version,
		handler: handler,
	})
}

// HasHandlers reports whether any handler matches the pair.
func (d *Dispatcher) HasHandlers(eventName string, version int) bool {
	return len(d.matches(eventName, version)) > 0
}

func (d *Dispatcher) matches(eventName string, version int) []HandlerFunc {
	var matched []HandlerFunc
	for _, reg := range d.registrations[eventName] {
		if reg.version == VersionAny || reg.version == version {
			matched = append(matched, reg.handler)
		}
	}
	return matched
}

// Dispatch invokes every matched handler in order, stopping at the first
// failure.
func (d *Dispatcher) Dispatch(ctx context.Context, envelope Envelope) error {
	for _, handler := range d.matches(envelope.EventName, envelope.EventVersion) {
		if err := handler(ctx, envelope.EventName, envelope.EventVersion, envelope.Data); err != nil {
			return fmt.Errorf("handler for %s v%d: %w", envelope.EventName, envelope.EventVersion, err)
		}
	}
	return nil
}
