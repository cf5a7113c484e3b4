package events

import (
	"context"
	"errors"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/crowdtasker/billing-backend/pkg/logger"
	"github.com/crowdtasker/billing-backend/pkg/metrics"
	"github.com/crowdtasker/billing-backend/pkg/schema"
)

// MessageSource is the pull surface of one subscription.
type MessageSource interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// ConsumerParams configure a Consumer.
type ConsumerParams struct {
	Sources    []MessageSource
	Registry   *schema.Registry
	Dispatcher *Dispatcher
	Logger     *logger.Logger
	Metrics    *metrics.EventMetrics
}

// Consumer pulls envelopes from the configured subscriptions, validates them
// against the schema registry, and dispatches to the registered handlers.
//
// Failure policy: a schema violation or handler error Nacks the message and
// stops the whole consumer. There is no retry and no dead-letter; recovering
// requires a redeploy or a manual skip. Replacing this with skip-and-continue
// would change observable semantics.
type Consumer struct {
	sources    []MessageSource
	registry   *schema.Registry
	dispatcher *Dispatcher
	logg       *logger.Logger
	metrics    *metrics.EventMetrics

	mtx     sync.Mutex
	haltErr error
}

// NewConsumer builds a consumer over the given subscriptions.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if len(params.Sources) == 0 {
		return nil, errors.New("at least one message source is required")
	}
	if params.Registry == nil {
		return nil, errors.New("schema registry is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		sources:    params.Sources,
		registry:   params.Registry,
		dispatcher: params.Dispatcher,
		logg:       params.Logger,
		metrics:    params.Metrics,
	}, nil
}

// Run consumes until the context is canceled or a message fails fatally.
func (c *Consumer) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(c.sources))
	for _, source := range c.sources {
		go func(src MessageSource) {
			errCh <- src.Receive(runCtx, func(msgCtx context.Context, msg *gcppubsub.Message) {
				if err := c.process(msgCtx, msg); err != nil {
					msg.Nack()
					c.recordHalt(err)
					cancel()
					return
				}
				msg.Ack()
			})
		}(source)
	}

	var receiveErr error
	for range c.sources {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && receiveErr == nil {
			receiveErr = err
		}
	}

	c.mtx.Lock()
	halt := c.haltErr
	c.mtx.Unlock()
	if halt != nil {
		return halt
	}
	if receiveErr != nil {
		return receiveErr
	}
	return ctx.Err()
}

func (c *Consumer) recordHalt(err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.haltErr == nil {
		c.haltErr = err
	}
}

func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) error {
	envelope, generic, err := Decode(msg.Data)
	if err != nil {
		c.metrics.IncFailed("unknown", "decode")
		c.logg.Error(ctx, "failed to decode envelope", err)
		return err
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id":    msg.ID,
		"event_id":      envelope.EventID,
		"event_name":    envelope.EventName,
		"event_version": envelope.EventVersion,
	})

	if !c.dispatcher.HasHandlers(envelope.EventName, envelope.EventVersion) {
		c.logg.Info(logCtx, "no handlers registered, skipping event")
		return nil
	}

	if err := c.registry.Validate(envelope.EventName, envelope.EventVersion, generic); err != nil {
		c.metrics.IncFailed(envelope.EventName, "schema")
		c.logg.Error(logCtx, "envelope failed schema validation", err)
		return err
	}

	start := time.Now()
	if err := c.dispatcher.Dispatch(logCtx, envelope); err != nil {
		c.metrics.IncFailed(envelope.EventName, "handler")
		c.logg.Error(logCtx, "handler failed, halting consumer", err)
		return err
	}

	c.metrics.ObserveDuration(envelope.EventName, time.Since(start))
	c.metrics.IncProcessed(envelope.EventName)
	c.logg.Info(logCtx, "event processed")
	return nil
}
