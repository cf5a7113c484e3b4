// Package consumers binds the event streams to the projection, pricing, and
// billing services. Registration happens once at startup; the dispatcher is
// immutable after that.
package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crowdtasker/billing-backend/internal/projection"
	"github.com/crowdtasker/billing-backend/pkg/db/models"
	"github.com/crowdtasker/billing-backend/pkg/events"
	"github.com/crowdtasker/billing-backend/pkg/events/payloads"
	"github.com/crowdtasker/billing-backend/pkg/logger"
)

// ProjectionService is the slice of the projection service the handlers use.
type ProjectionService interface {
	ApplyAccountUpsert(ctx context.Context, upsert projection.AccountUpsert) error
	ApplyRoleChange(ctx context.Context, accountPublicID, role string) error
	ApplyTaskUpsert(ctx context.Context, taskPublicID, description string) error
}

// PricingService is the slice of the pricing service the handlers use.
type PricingService interface {
	PriceTask(ctx context.Context, taskPublicID string) (*models.Task, error)
	ChargeAssignmentFee(ctx context.Context, taskPublicID, accountPublicID string) error
	AssessClosingAmount(ctx context.Context, taskPublicID, accountPublicID string) error
}

// Params configure the handler set.
type Params struct {
	Projection ProjectionService
	Pricing    PricingService
	Logger     *logger.Logger
}

// NewDispatcher registers every stream handler and returns the dispatcher
// ready for the consume loop.
func NewDispatcher(params Params) (*events.Dispatcher, error) {
	if params.Projection == nil {
		return nil, fmt.Errorf("projection service required")
	}
	if params.Pricing == nil {
		return nil, fmt.Errorf("pricing service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	h := &handlers{
		projection: params.Projection,
		pricing:    params.Pricing,
		logg:       params.Logger,
	}

	dispatcher := events.NewDispatcher()
	dispatcher.Register(payloads.AccountCreated, events.VersionAny, h.onAccountUpserted)
	dispatcher.Register(payloads.AccountUpdated, events.VersionAny, h.onAccountUpserted)
	dispatcher.Register(payloads.AccountRoleChanged, events.VersionAny, h.onAccountRoleChanged)
	dispatcher.Register(payloads.TaskCreated, 1, h.onTaskUpsertedV1)
	dispatcher.Register(payloads.TaskCreated, 2, h.onTaskUpsertedV2)
	dispatcher.Register(payloads.TaskUpdated, 1, h.onTaskUpsertedV1)
	dispatcher.Register(payloads.TaskUpdated, 2, h.onTaskUpsertedV2)
	dispatcher.Register(payloads.TaskAdded, events.VersionAny, h.onTaskAdded)
	dispatcher.Register(payloads.TaskAssigned, events.VersionAny, h.onTaskAssigned)
	dispatcher.Register(payloads.TaskClosed, events.VersionAny, h.onTaskClosed)
	return dispatcher, nil
}

type handlers struct {
	projection ProjectionService
	pricing    PricingService
	logg       *logger.Logger
}

func (h *handlers) onAccountUpserted(ctx context.Context, eventName string, eventVersion int, data json.RawMessage) error {
	var payload payloads.AccountStream
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode %s data: %w", eventName, err)
	}
	return h.projection.ApplyAccountUpsert(ctx, projection.AccountUpsert{
		PublicID: payload.PublicID,
		Email:    payload.Email,
		FullName: payload.FullName,
		Role:     payload.Role,
	})
}

func (h *handlers) onAccountRoleChanged(ctx context.Context, eventName string, eventVersion int, data json.RawMessage) error {
	var payload payloads.AccountRoleChangedData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode %s data: %w", eventName, err)
	}
	return h.projection.ApplyRoleChange(ctx, payload.PublicID, payload.Role)
}

// onTaskUpsertedV1 renders the legacy task description: title and body joined
// with a newline. Retire once every producer ships v2.
func (h *handlers) onTaskUpsertedV1(ctx context.Context, eventName string, eventVersion int, data json.RawMessage) error {
	var payload payloads.TaskStreamV1
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode %s v1 data: %w", eventName, err)
	}
	description := fmt.Sprintf("%s\n%s", payload.Title, payload.Description)
	return h.projection.ApplyTaskUpsert(ctx, payload.PublicID, description)
}

// onTaskUpsertedV2 prefixes the tracker id when present: "[JIRA-1] title".
func (h *handlers) onTaskUpsertedV2(ctx context.Context, eventName string, eventVersion int, data json.RawMessage) error {
	var payload payloads.TaskStreamV2
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode %s v2 data: %w", eventName, err)
	}
	prefix := ""
	if payload.JiraID != "" {
		prefix = fmt.Sprintf("[%s] ", payload.JiraID)
	}
	description := fmt.Sprintf("%s%s\n%s", prefix, payload.Title, payload.Description)
	return h.projection.ApplyTaskUpsert(ctx, payload.PublicID, description)
}

func (h *handlers) onTaskAdded(ctx context.Context, eventName string, eventVersion int, data json.RawMessage) error {
	var payload payloads.TaskLifecycleData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode %s data: %w", eventName, err)
	}
	_, err := h.pricing.PriceTask(ctx, payload.Task)
	return err
}

func (h *handlers) onTaskAssigned(ctx context.Context, eventName string, eventVersion int, data json.RawMessage) error {
	var payload payloads.TaskLifecycleData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode %s data: %w", eventName, err)
	}
	return h.pricing.ChargeAssignmentFee(ctx, payload.Task, payload.Assignee)
}

func (h *handlers) onTaskClosed(ctx context.Context, eventName string, eventVersion int, data json.RawMessage) error {
	var payload payloads.TaskLifecycleData
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode %s data: %w", eventName, err)
	}
	return h.pricing.AssessClosingAmount(ctx, payload.Task, payload.Assignee)
}
