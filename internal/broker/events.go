package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing ledger events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func warehouseKey(warehouseID int64) string {
	return fmt.Sprintf("warehouse-%d", warehouseID)
}

// PublishRecordsDiverged publishes RecordsDiverged event
func (ep *EventPublisher) PublishRecordsDiverged(ctx context.Context, event *models.RecordsDivergedEvent) error {
	return ep.producer.PublishEvent(ctx, warehouseKey(event.WarehouseID), event.EventType, event)
}

// PublishLowStock publishes LowStock event
func (ep *EventPublisher) PublishLowStock(ctx context.Context, event *models.LowStockEvent) error {
	return ep.producer.PublishEvent(ctx, warehouseKey(event.WarehouseID), event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onRecordSynced func(context.Context, *models.RecordSyncedEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnRecordSynced registers a handler for RecordSynced events
func (eh *EventHandler) OnRecordSynced(handler func(context.Context, *models.RecordSyncedEvent) error) {
	eh.onRecordSynced = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeRecordSynced:
		if eh.onRecordSynced != nil {
			var event models.RecordSyncedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RecordSynced event: %w", err)
			}
			return eh.onRecordSynced(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
