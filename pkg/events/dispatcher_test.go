package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestDispatcherMatchesAnyAndExactVersions(t *testing.T) {
	dispatcher := NewDispatcher()

	var calls []string
	dispatcher.Register("TaskUpdated", VersionAny, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		calls = append(calls, "any")
		return nil
	})
	dispatcher.Register("TaskUpdated", 2, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		calls = append(calls, "v2")
		return nil
	})

	err := dispatcher.Dispatch(context.Background(), Envelope{EventName: "TaskUpdated", EventVersion: 2})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(calls) != 2 || calls[0] != "any" || calls[1] != "v2" {
		t.Fatalf("expected [any v2] in registration order, got %v", calls)
	}

	calls = nil
	if err := dispatcher.Dispatch(context.Background(), Envelope{EventName: "TaskUpdated", EventVersion: 1}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(calls) != 1 || calls[0] != "any" {
		t.Fatalf("expected only the version-any handler for v1, got %v", calls)
	}
}

func TestDispatcherStopsAtFirstFailure(t *testing.T) {
	dispatcher := NewDispatcher()
	boom := errors.New("handler exploded")

	var secondCalled bool
	dispatcher.Register("AccountCreated", VersionAny, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		return boom
	})
	dispatcher.Register("AccountCreated", VersionAny, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		secondCalled = true
		return nil
	})

	err := dispatcher.Dispatch(context.Background(), Envelope{EventName: "AccountCreated", EventVersion: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
	if secondCalled {
		t.Fatal("second handler ran after the first failed")
	}
}

func TestDispatcherHasHandlers(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.Register("TaskAdded", 1, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		return nil
	})

	if !dispatcher.HasHandlers("TaskAdded", 1) {
		t.Fatal("expected handlers for TaskAdded v1")
	}
	if dispatcher.HasHandlers("TaskAdded", 2) {
		t.Fatal("unexpected handlers for TaskAdded v2")
	}
	if dispatcher.HasHandlers("Unknown", 1) {
		t.Fatal("unexpected handlers for unregistered event")
	}
}

func TestDispatchWithoutHandlersIsNoop(t *testing.T) {
	dispatcher := NewDispatcher()
	if err := dispatcher.Dispatch(context.Background(), Envelope{EventName: "Unknown", EventVersion: 1}); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}
