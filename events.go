package mediastore

import (
	"context"
	"fmt"

	"github.com/rbaliyan/event/v3"
)

// Event names for mediastore events.
const (
	EventNameMessageInserted     = "mediastore.message.inserted"
	EventNameMessageDeleted      = "mediastore.message.deleted"
	EventNameConversationChanged = "mediastore.conversation.changed"
)

// MessageInsertedEvent is published when a message row is durably stored.
// Suppressed duplicates do not publish.
type MessageInsertedEvent struct {
	MessageID int64 `json:"message_id"`
	ThreadID  int64 `json:"thread_id"`
	Outgoing  bool  `json:"outgoing"`
	SentAt    int64 `json:"sent_at"`
}

// MessageDeletedEvent is published when a message is hard-deleted.
// Soft deletes publish ConversationChangedEvent instead, since the row
// survives as a placeholder.
type MessageDeletedEvent struct {
	MessageID int64 `json:"message_id"`
	ThreadID  int64 `json:"thread_id"`
}

// ConversationChangedEvent is published after any committed write that
// alters the visible state of a thread.
type ConversationChangedEvent struct {
	ThreadID int64 `json:"thread_id"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageInserted.Subscribe(ctx, handler)
//	svc.Events().ConversationChanged.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageInserted is published when a message row is stored.
	MessageInserted event.Event[MessageInsertedEvent]

	// MessageDeleted is published when a message is hard-deleted.
	MessageDeleted event.Event[MessageDeletedEvent]

	// ConversationChanged is published after committed thread mutations.
	ConversationChanged event.Event[ConversationChangedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageInserted:     event.New[MessageInsertedEvent](namePrefix + "." + EventNameMessageInserted),
		MessageDeleted:      event.New[MessageDeletedEvent](namePrefix + "." + EventNameMessageDeleted),
		ConversationChanged: event.New[ConversationChangedEvent](namePrefix + "." + EventNameConversationChanged),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageInserted); err != nil {
		return fmt.Errorf("register MessageInserted: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDeleted); err != nil {
		return fmt.Errorf("register MessageDeleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.ConversationChanged); err != nil {
		return fmt.Errorf("register ConversationChanged: %w", err)
	}
	return nil
}
