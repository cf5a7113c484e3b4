package events

import "testing"

func TestDecodeDefaultsMissingVersionToOne(t *testing.T) {
	raw := []byte(`{"event_id":"e-1","event_name":"TaskAdded","event_time":"2024-01-01T00:00:00Z","producer":"tracker","data":{"task":"t-1"}}`)

	envelope, generic, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if envelope.EventVersion != 1 {
		t.Fatalf("expected version default 1, got %d", envelope.EventVersion)
	}
	if generic == nil {
		t.Fatal("expected generic document for schema validation")
	}
}

func TestDecodeRejectsMissingEventName(t *testing.T) {
	raw := []byte(`{"event_id":"e-1","data":{}}`)
	if _, _, err := Decode(raw); err == nil {
		t.Fatal("expected error for envelope without event_name")
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
