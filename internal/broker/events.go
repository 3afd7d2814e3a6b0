package broker

import (
	"context"
	"fmt"

	"payment-service/internal/models"
)

// Publisher is the outbound event surface consumed by the commerce platform.
// The payment service announces terminal trade outcomes and instrument binds;
// order fulfillment reacts to these downstream.
type Publisher interface {
	PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error
	PublishInstrumentBound(ctx context.Context, event *models.InstrumentBoundEvent) error
}

// EventPublisher publishes domain events to Kafka.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentSucceeded publishes PaymentSucceeded event
func (ep *EventPublisher) PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	key := fmt.Sprintf("purchase-%d", event.PurchaseID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	key := fmt.Sprintf("purchase-%d", event.PurchaseID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentRefunded publishes PaymentRefunded event
func (ep *EventPublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	key := fmt.Sprintf("purchase-%d", event.PurchaseID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishInstrumentBound publishes InstrumentBound event
func (ep *EventPublisher) PublishInstrumentBound(ctx context.Context, event *models.InstrumentBoundEvent) error {
	key := fmt.Sprintf("customer-%s", event.CustomerID)
	return ep.producer.PublishEvent(ctx, key, event)
}
