// Package eventbus carries drip events between the API, the dispatcher and the engine pool.
package eventbus

import (
	"context"

	"github.com/dukex/drip/pkg/events"
)

// Event is any envelope from pkg/events.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event under a partition key. Events sharing a key are delivered in
// publish order; drip keys trigger events by company and queue events by execution.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes events to one handler per type. Handlers receive a pointer to the
// decoded envelope; returning an error nacks the message so it is redelivered.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	// GenerateID returns a fresh envelope id.
	GenerateID() string
}
