package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishQuoteCreated publishes QuoteCreated event
func (ep *EventPublisher) PublishQuoteCreated(ctx context.Context, event *models.QuoteCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, quoteKey(event.QuoteRef), event)
}

// PublishQuoteCancelled publishes QuoteCancelled event
func (ep *EventPublisher) PublishQuoteCancelled(ctx context.Context, event *models.QuoteCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, quoteKey(event.QuoteRef), event)
}

// PublishQuoteExpired publishes QuoteExpired event
func (ep *EventPublisher) PublishQuoteExpired(ctx context.Context, event *models.QuoteExpiredEvent) error {
	return ep.producer.PublishEvent(ctx, quoteKey(event.QuoteRef), event)
}

// PublishPaymentSettled publishes PaymentSettled event
func (ep *EventPublisher) PublishPaymentSettled(ctx context.Context, event *models.PaymentSettledEvent) error {
	return ep.producer.PublishEvent(ctx, quoteKey(event.QuoteRef), event)
}

// PublishPaymentRejected publishes PaymentRejected event
func (ep *EventPublisher) PublishPaymentRejected(ctx context.Context, event *models.PaymentRejectedEvent) error {
	return ep.producer.PublishEvent(ctx, quoteKey(event.QuoteRef), event)
}

func quoteKey(quoteRef string) string {
	return fmt.Sprintf("quote-%s", quoteRef)
}

// EventHandler routes inbound broker messages
type EventHandler struct {
	onPaymentCompleted func(context.Context, *models.PaymentCompletedClaim) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentCompleted registers a handler for inbound payment completion
// claims from the payment rail
func (eh *EventHandler) OnPaymentCompleted(handler func(context.Context, *models.PaymentCompletedClaim) error) {
	eh.onPaymentCompleted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentCompleted:
		if eh.onPaymentCompleted != nil {
			var claim models.PaymentCompletedClaim
			if err := json.Unmarshal(msg.Value, &claim); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentCompleted claim: %w", err)
			}
			return eh.onPaymentCompleted(ctx, &claim)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
