package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/crowdtasker/billing-backend/pkg/logger"
	"github.com/crowdtasker/billing-backend/pkg/schema"
)

// TopicPublisher publishes one message and blocks until the broker
// acknowledges it. A slow broker stalls the caller; that back-pressure is part
// of the producer contract.
type TopicPublisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// PublisherFactory resolves a publisher handle for a topic name.
type PublisherFactory func(topic string) TopicPublisher

// Producer wraps payloads in validated envelopes and publishes synchronously.
type Producer struct {
	name      string
	registry  *schema.Registry
	factory   PublisherFactory
	logg      *logger.Logger
	now       func() time.Time
	generator func() string
}

// ProducerParams configure a Producer.
type ProducerParams struct {
	Name             string
	Registry         *schema.Registry
	PublisherFactory PublisherFactory
	Logger           *logger.Logger
}

// NewProducer builds a producer named after the emitting service.
func NewProducer(params ProducerParams) (*Producer, error) {
	if params.Name == "" {
		return nil, errors.New("producer name is required")
	}
	if params.Registry == nil {
		return nil, errors.New("schema registry is required")
	}
	if params.PublisherFactory == nil {
		return nil, errors.New("publisher factory is required")
	}
	return &Producer{
		name:      params.Name,
		registry:  params.Registry,
		factory:   params.PublisherFactory,
		logg:      params.Logger,
		now:       time.Now,
		generator: uuid.NewString,
	}, nil
}

// Send builds the envelope for (eventName, version), validates it against the
// schema registry, publishes to the topic, and waits for the broker ack.
func (p *Producer) Send(ctx context.Context, topic, eventName string, version int, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventName, err)
	}

	envelope := Envelope{
		EventID:      p.generator(),
		EventName:    eventName,
		EventTime:    p.now().UTC().Format(time.RFC3339Nano),
		EventVersion: version,
		Producer:     p.name,
		Data:         payload,
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventName, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("round-trip %s envelope: %w", eventName, err)
	}
	if err := p.registry.Validate(eventName, version, generic); err != nil {
		return err
	}

	publisher := p.factory(topic)
	if publisher == nil {
		return fmt.Errorf("no publisher configured for topic %q", topic)
	}

	attributes := map[string]string{
		"event_name":    eventName,
		"event_version": strconv.Itoa(version),
		"producer":      p.name,
	}
	messageID, err := publisher.Publish(ctx, raw, attributes)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventName, topic, err)
	}

	if p.logg != nil {
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"event_id":   envelope.EventID,
			"event_name": eventName,
			"topic":      topic,
			"message_id": messageID,
		})
		p.logg.Info(logCtx, "event published")
	}
	return nil
}

type gcpPublisher struct {
	publisher *gcppubsub.Publisher
}

// NewGCPPublisher adapts a Pub/Sub publisher handle to TopicPublisher,
// blocking on the publish result.
func NewGCPPublisher(publisher *gcppubsub.Publisher) TopicPublisher {
	if publisher == nil {
		return nil
	}
	return &gcpPublisher{publisher: publisher}
}

func (g *gcpPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	result := g.publisher.Publish(ctx, &gcppubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	return result.Get(ctx)
}
