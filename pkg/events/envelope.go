package events

import (
	"encoding/json"
	"fmt"
)

// Envelope is the versioned wire format wrapping every domain event payload.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventName    string          `json:"event_name"`
	EventTime    string          `json:"event_time"`
	EventVersion int             `json:"event_version"`
	Producer     string          `json:"producer"`
	Data         json.RawMessage `json:"data"`
}

// Decode parses raw message bytes into an envelope plus the generic form the
// schema registry validates against.
func Decode(raw []byte) (Envelope, any, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.EventName == "" {
		return Envelope{}, nil, fmt.Errorf("envelope missing event_name")
	}
	if envelope.EventVersion == 0 {
		// Early producers omitted event_version; those streams are all v1.
		envelope.EventVersion = 1
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope document: %w", err)
	}
	return envelope, generic, nil
}
