package courier

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for courier events.
const (
	EventNameMessageSent   = "courier.message.sent"
	EventNameMessageRead   = "courier.message.read"
	EventNameRecordDeleted = "courier.record.deleted"
)

// MessageSentEvent is published when a message is sent.
// This is the primary event for notifying recipients of new messages.
type MessageSentEvent struct {
	MessageID    string    `json:"message_id"`
	SenderID     string    `json:"sender_id"`
	RecipientIDs []string  `json:"recipient_ids"`
	Subject      string    `json:"subject"`
	Partial      bool      `json:"partial"` // true when some recipients failed to resolve
	SentAt       time.Time `json:"sent_at"`
}

// MessageReadEvent is published when a message's read flag changes.
// Use this for read receipts and tracking message engagement.
type MessageReadEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	IsRead    bool      `json:"is_read"`
	ReadAt    time.Time `json:"read_at"`
}

// RecordDeletedEvent is published when a user removes a message from their
// ledger. Cascaded is true when the removal was the last record and the
// message itself was deleted.
type RecordDeletedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Cascaded  bool      `json:"cascaded"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageSent.Subscribe(ctx, handler)
//	svc.Events().MessageRead.Subscribe(ctx, handler)
//	svc.Events().RecordDeleted.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageSent is published when a message is sent.
	MessageSent event.Event[MessageSentEvent]

	// MessageRead is published when a message's read flag changes.
	MessageRead event.Event[MessageReadEvent]

	// RecordDeleted is published when a delivery record is removed.
	RecordDeleted event.Event[RecordDeletedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageSent:   event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		MessageRead:   event.New[MessageReadEvent](namePrefix + "." + EventNameMessageRead),
		RecordDeleted: event.New[RecordDeletedEvent](namePrefix + "." + EventNameRecordDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRead); err != nil {
		return fmt.Errorf("register MessageRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.RecordDeleted); err != nil {
		return fmt.Errorf("register RecordDeleted: %w", err)
	}
	return nil
}
