package ports

import (
	"context"

	"github.com/approveflow/backend/internal/domain/events"
)

// EventHandler is a function that handles a published event payload.
type EventHandler func(ctx context.Context, payload interface{}) error

// EventPublisher is the in-process pub/sub surface the executor publishes
// lifecycle events on after a transaction commits. Handlers run
// fire-and-forget relative to engine state.
type EventPublisher interface {
	Subscribe(eventType events.EventType, handler EventHandler) func()
	Publish(ctx context.Context, eventType events.EventType, payload interface{}) error
	PublishAsync(eventType events.EventType, payload interface{})
}
