package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventIndexStarted       EventType = "index_started"
	EventIndexTypeCompleted EventType = "index_type_completed"
	EventIndexCompleted     EventType = "index_completed"
	EventConversationPurged EventType = "conversation_purged"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe registers handler and returns a subscription id for Unsubscribe
	Subscribe(eventType EventType, handler EventHandler) (string, error)

	// Unsubscribe removes the subscription with the given id
	Unsubscribe(eventType EventType, subscriptionID string) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
