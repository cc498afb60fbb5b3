package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-chat-delivery/internal/domain/event"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
)

const (
	MetadataRoutingKey = "routing_key"
	MetadataEventKind  = "event_kind"
	MetadataTraceID    = "trace_id"
)

// EventDispatcher defines the high-level contract for outgoing events.
// This allows the service to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Eventer) error
	Publisher() message.Publisher
}

type eventDispatcher struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

// NewEventDispatcher publishes every exportable event on topic. The event's routing key
// travels in the message metadata.
func NewEventDispatcher(pub message.Publisher, topic string, logger *slog.Logger) EventDispatcher {
	return &eventDispatcher{
		publisher: pub,
		topic:     topic,
		logger:    logger,
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	// [LOCAL_ONLY] Connection signals and events without a routing key never leave the process.
	exp, ok := ev.(event.Exportable)
	if !ok || exp.GetRoutingKey() == "" {
		return nil
	}
	routingKey := exp.GetRoutingKey()

	out := model.NewOutboundEvent(ev.GetID(), ev.GetUserID(), ev.GetKind().String(), ev.GetPayload(), ev.GetOccurredAt())
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(ev.GetID(), payload)
	msg.Metadata.Set(MetadataRoutingKey, routingKey)
	msg.Metadata.Set(MetadataEventKind, ev.GetKind().String())
	if traceID := TraceID(ctx); traceID != "" {
		msg.Metadata.Set(MetadataTraceID, traceID)
	}
	msg.SetContext(ctx)

	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish %s to topic %s: %w", routingKey, d.topic, err)
	}

	d.logger.Debug("EVENT_PUBLISHED",
		"topic", d.topic,
		"routing_key", routingKey,
		"event_id", ev.GetID(),
	)
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
