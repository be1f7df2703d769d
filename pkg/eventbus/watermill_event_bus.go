package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/drip/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
	logger        *slog.Logger
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
		logger:        logger.With("module", "event_bus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.SetContext(ctx)

	return eb.publisher.Publish(events.Topic, msg)
}

func newEvent(eventType events.EventType) (Event, bool) {
	var event Event

	switch eventType {
	case events.TriggerReceivedEvent:
		event = &events.TriggerReceived{}
	case events.ExecutionQueuedEvent:
		event = &events.ExecutionQueued{}
	case events.ExecutionCompletedEvent:
		event = &events.ExecutionCompleted{}
	case events.ExecutionFailedEvent:
		event = &events.ExecutionFailed{}
	case events.ExecutionCancelledEvent:
		event = &events.ExecutionCancelled{}
	case events.EmailRequestedEvent:
		event = &events.EmailRequested{}
	case events.SMSRequestedEvent:
		event = &events.SMSRequested{}
	case events.WhatsAppRequestedEvent:
		event = &events.WhatsAppRequested{}
	case events.TaskCreateRequestedEvent:
		event = &events.TaskCreateRequested{}
	case events.TeamNotificationRequestedEvent:
		event = &events.TeamNotificationRequested{}
	default:
		return nil, false
	}

	return event, true
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			event, known := newEvent(eventType)
			if !known {
				eb.logger.WarnContext(ctx, "dropping message with unknown event type", "event_type", eventType)
				msg.Ack()

				continue
			}

			if err := json.Unmarshal(msg.Payload, event); err != nil {
				eb.logger.ErrorContext(ctx, "dropping undecodable message", "event_type", eventType, "error", err)
				msg.Ack()

				continue
			}

			if err := handler(ctx, event); err != nil {
				eb.logger.WarnContext(ctx, "event handler failed, message will be redelivered",
					"event_type", eventType,
					"key", msg.Metadata.Get(events.EventMetadataKey),
					"error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
