package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/approveflow/backend/internal/domain/events"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
)

// EventType is an alias to the domain type
type EventType = events.EventType

// InstanceEventPayload is the payload for instance lifecycle events.
type InstanceEventPayload struct {
	Instance *models.Instance `json:"instance"`
	Operator *models.UserSession
	Comment  string `json:"comment,omitempty"`
}

// TaskEventPayload is the payload for task events.
type TaskEventPayload struct {
	Instance *models.Instance `json:"instance"`
	Task     *models.Task     `json:"task"`
}

// CarbonCopyPayload carries a new CC notice together with its instance so
// handlers know the recipient.
type CarbonCopyPayload struct {
	Instance   *models.Instance   `json:"instance"`
	CarbonCopy *models.CarbonCopy `json:"carbon_copy"`
}

// PlatformEvent represents a published event with its envelope.
type PlatformEvent struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// EventHandler is a function that handles an event.
// Using the type from ports to ensure interface compatibility.
type EventHandler = ports.EventHandler

// subscription pairs a handler with a bus-unique token so it can be
// removed again; function values are not comparable.
type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus manages the publish-subscribe event system.
// It implements ports.EventPublisher interface.
type EventBus struct {
	handlers map[EventType][]subscription
	nextID   uint64
	mu       sync.RWMutex
	inflight sync.WaitGroup
}

// Ensure EventBus implements ports.EventPublisher at compile time
var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new EventBus instance
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		subs := eb.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				eb.handlers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish publishes an event to all registered handlers
func (eb *EventBus) Publish(ctx context.Context, eventType EventType, payload interface{}) error {
	eb.mu.RLock()
	handlers := eb.handlers[eventType]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	event := PlatformEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}

	for _, sub := range handlers {
		if err := sub.handler(ctx, event.Payload); err != nil {
			return fmt.Errorf("EventBus handler error for %s: %w", eventType, err)
		}
	}

	return nil
}

// PublishAsync publishes an event asynchronously
func (eb *EventBus) PublishAsync(eventType EventType, payload interface{}) {
	eb.inflight.Add(1)
	go func() {
		defer eb.inflight.Done()
		// Use background context for async events as they are decoupled from the request/tx
		if err := eb.Publish(context.Background(), eventType, payload); err != nil {
			log.Printf("EventBus async publish error: %v", err)
		}
	}()
}

// Close waits for in-flight async handlers to finish. Call during shutdown
// after the last publisher has stopped.
func (eb *EventBus) Close() {
	eb.inflight.Wait()
}

// Clear removes all handlers (useful for testing)
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers = make(map[EventType][]subscription)
}
