package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/crowdtasker/billing-backend/pkg/errors"
	"github.com/crowdtasker/billing-backend/pkg/logger"
)

// fakeSource replays canned messages, then blocks until the consumer cancels.
type fakeSource struct {
	messages [][]byte
}

func (f *fakeSource) Receive(ctx context.Context, handle func(context.Context, *gcppubsub.Message)) error {
	for _, data := range f.messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handle(ctx, &gcppubsub.Message{Data: data})
	}
	<-ctx.Done()
	return ctx.Err()
}

func envelopeBytes(t *testing.T, name string, version int, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(Envelope{
		EventID:      "e-1",
		EventName:    name,
		EventTime:    "2024-01-01T00:00:00Z",
		EventVersion: version,
		Producer:     "tracker",
		Data:         mustMarshal(t, data),
	})
	require.NoError(t, err)
	return raw
}

func mustMarshal(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return raw
}

func newHaltTestConsumer(t *testing.T, dispatcher *Dispatcher, messages ...[]byte) *Consumer {
	t.Helper()

	consumer, err := NewConsumer(ConsumerParams{
		Sources:    []MessageSource{&fakeSource{messages: messages}},
		Registry:   newTestRegistry(t),
		Dispatcher: dispatcher,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return consumer
}

func TestConsumerProcessesValidMessages(t *testing.T) {
	var handled []string
	dispatcher := NewDispatcher()
	dispatcher.Register("TaskPriceCreated", VersionAny, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		handled = append(handled, name)
		return nil
	})

	consumer := newHaltTestConsumer(t, dispatcher,
		envelopeBytes(t, "TaskPriceCreated", 1, map[string]any{"task": "task-1", "assignment_cost": 1200}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := consumer.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"TaskPriceCreated"}, handled)
}

func TestConsumerHaltsOnHandlerFailure(t *testing.T) {
	boom := errors.New("projection unavailable")
	var calls int
	dispatcher := NewDispatcher()
	dispatcher.Register("TaskPriceCreated", VersionAny, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		calls++
		return boom
	})

	consumer := newHaltTestConsumer(t, dispatcher,
		envelopeBytes(t, "TaskPriceCreated", 1, map[string]any{"task": "task-1", "assignment_cost": 1200}),
		envelopeBytes(t, "TaskPriceCreated", 1, map[string]any{"task": "task-2", "assignment_cost": 1300}),
	)

	err := consumer.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	// The second message never reaches the handler.
	assert.Equal(t, 1, calls)
}

func TestConsumerHaltsOnSchemaViolation(t *testing.T) {
	var calls int
	dispatcher := NewDispatcher()
	dispatcher.Register("TaskPriceCreated", VersionAny, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		calls++
		return nil
	})

	// assignment_cost missing: the registry rejects before dispatch.
	consumer := newHaltTestConsumer(t, dispatcher,
		envelopeBytes(t, "TaskPriceCreated", 1, map[string]any{"task": "task-1"}),
	)

	err := consumer.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	assert.Zero(t, calls)
}

func TestConsumerSkipsUnhandledEvents(t *testing.T) {
	var handled int
	dispatcher := NewDispatcher()
	dispatcher.Register("TaskPriceCreated", VersionAny, func(ctx context.Context, name string, version int, data json.RawMessage) error {
		handled++
		return nil
	})

	// No handlers for AccountDeleted: skipped without touching the registry,
	// then the valid message still goes through.
	consumer := newHaltTestConsumer(t, dispatcher,
		envelopeBytes(t, "AccountDeleted", 1, map[string]any{}),
		envelopeBytes(t, "TaskPriceCreated", 1, map[string]any{"task": "task-1", "assignment_cost": 1200}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := consumer.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, handled)
}
