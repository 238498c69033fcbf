package store

import (
	"time"
)

// Role identifies how a user participates in a message. Every delivery
// record carries exactly one role; the "neither sender nor recipient"
// state is unrepresentable.
type Role int8

// Role constants.
const (
	// RoleSender marks the originating account's record.
	RoleSender Role = iota + 1
	// RoleRecipient marks a record created during fanout for a recipient.
	RoleRecipient
	// RoleBoth marks the sender's record after a self-addressed send.
	RoleBoth
)

// IsSender reports whether the record belongs to the message originator.
func (r Role) IsSender() bool { return r == RoleSender || r == RoleBoth }

// IsRecipient reports whether the record's owner received the message.
func (r Role) IsRecipient() bool { return r == RoleRecipient || r == RoleBoth }

// String returns the storage representation of the role.
func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleRecipient:
		return "recipient"
	case RoleBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseRole converts a storage representation back to a Role.
// Returns false for unknown values.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "sender":
		return RoleSender, true
	case "recipient":
		return RoleRecipient, true
	case "both":
		return RoleBoth, true
	default:
		return 0, false
	}
}

// Message is a read-only view of a message. Messages are immutable after
// creation - per-user state lives on the delivery Record, never here.
type Message interface {
	GetID() string
	GetSenderID() string
	GetSubject() string
	GetBody() string
	GetCreatedAt() time.Time
}

// Record is a read-only view of one user's delivery record for a message.
// A record is the unit of per-user mutable state: read status and the
// participant role. Exactly one record exists per (message, user) pair.
type Record interface {
	GetMessageID() string
	GetUserID() string
	GetRole() Role
	GetIsRead() bool
	GetReadAt() *time.Time
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
}

// Entry pairs a message with a single viewer's delivery record.
// Queries always return entries: a viewer never sees another
// participant's record.
type Entry struct {
	Message Message
	Record  Record
}

// MessageData contains the data for creating a new message.
// The store creates the message together with the sender's delivery
// record in a single atomic operation.
type MessageData struct {
	SenderID string
	Subject  string
	Body     string
}

// EntryList represents a paginated list of entries.
type EntryList struct {
	Entries    []Entry
	Total      int64
	HasMore    bool
	NextCursor string
}

// DeleteOutcome reports what a DeleteRecord call removed.
type DeleteOutcome int

const (
	// RecordRemoved means only the caller's record was deleted;
	// other participants still hold records for the message.
	RecordRemoved DeleteOutcome = iota + 1
	// MessageFullyDeleted means the caller held the last record and the
	// message was cascade-deleted with it.
	MessageFullyDeleted
)

// String returns a human-readable outcome name.
func (o DeleteOutcome) String() string {
	switch o {
	case RecordRemoved:
		return "record removed"
	case MessageFullyDeleted:
		return "message fully deleted"
	default:
		return "unknown"
	}
}
