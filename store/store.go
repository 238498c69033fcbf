// Package store provides interfaces and types for delivery-ledger storage.
// Implementations are in store/memory, store/postgres, and store/mongo.
//
// # Architectural Principle: No Distributed Locks
//
// This package avoids distributed locks entirely. All concurrency concerns
// are handled through:
//
//  1. Atomic Database Operations: message creation always writes the message
//     row and the sender's delivery record in one transaction, so a
//     record-less message is never observable.
//
//  2. Uniqueness via Constraints: the (message_id, user_id) pair is enforced
//     by a unique index, not by check-then-insert at the application layer.
//
//  3. Transactional Cascade: DeleteRecord removes the caller's record and
//     re-counts the remaining records for the message inside the same
//     transaction, taking a row-level lock on the message. Two concurrent
//     deletes of the last two records therefore serialize: exactly one of
//     them observes zero remaining records and cascades.
//
//  4. Idempotent Cascade: deleting an already-deleted message is a no-op
//     success, so redundant cascade attempts are harmless.
//
// The reference count that drives the cascade is always recomputed from the
// record set at check time - no embedded counter that can go stale.
package store

import (
	"context"
)

// Store is the storage contract for messages and delivery records.
//
// All operations must be safe for concurrent use. Implementations must use
// database-level atomicity (transactions, row locks, unique constraints)
// rather than external locking. Store calls carry a bounded timeout and
// return ErrUnavailable on expiry; callers retry with backoff, the store
// never retries internally.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Fanout operations - message creation and rollback
	FanoutStore

	// Ledger operations - per-record state transitions
	LedgerStore

	// Query operations - viewer-scoped reads
	QueryStore

	// Stats operations - aggregate ledger statistics
	StatsStore
}

// FanoutStore provides the write operations used by the fanout engine.
type FanoutStore interface {
	// CreateMessage creates a message together with the sender's delivery
	// record (RoleSender, unread) in a single atomic operation. This is the
	// only way a message comes into existence, and it guarantees the
	// "a message always has at least one record" invariant from birth.
	CreateMessage(ctx context.Context, data MessageData) (Message, Record, error)

	// AddRecipient attaches a recipient delivery record to an existing
	// message. If the user already holds the sender record (self-addressed
	// send), the record is promoted to RoleBoth instead of inserting a
	// second row. If the user already holds a recipient record the call is
	// a no-op returning the existing record. Returns ErrNotFound if the
	// message does not exist.
	AddRecipient(ctx context.Context, messageID, userID string) (Record, error)

	// DeleteMessage permanently removes a message and all of its delivery
	// records. Used by the fanout engine to roll back a message whose
	// every recipient failed to resolve. Deleting an already-gone message
	// is a no-op success.
	DeleteMessage(ctx context.Context, messageID string) error
}

// LedgerStore provides per-record state transitions.
type LedgerStore interface {
	// SetRead sets the read flag on the caller's delivery record.
	// Only recipient-role records can transition: returns ErrNotFound when
	// the record is absent or sender-only. Idempotent - setting the flag
	// to its current value succeeds without error.
	SetRead(ctx context.Context, messageID, userID string, read bool) error

	// DeleteRecord removes the caller's delivery record for a message. If
	// it was the last remaining record, the message is deleted in the same
	// transaction and MessageFullyDeleted is returned; otherwise
	// RecordRemoved. Returns ErrNotFound when the caller holds no record.
	DeleteRecord(ctx context.Context, messageID, userID string) (DeleteOutcome, error)

	// CountRecords returns the number of delivery records for a message.
	CountRecords(ctx context.Context, messageID string) (int64, error)
}

// QueryStore provides viewer-scoped read operations.
type QueryStore interface {
	// GetMessage retrieves a message paired with the viewer's own delivery
	// record. Returns ErrNotFound when the message does not exist or the
	// viewer holds no record for it.
	GetMessage(ctx context.Context, messageID, viewerID string) (*Entry, error)

	// Find retrieves entries matching the filters.
	Find(ctx context.Context, filters []Filter, opts ListOptions) (*EntryList, error)

	// Count returns the count of entries matching the filters.
	Count(ctx context.Context, filters []Filter) (int64, error)

	// Search performs substring search over subject and body,
	// scoped to the query's viewer.
	Search(ctx context.Context, query SearchQuery) (*EntryList, error)
}

// BulkReadMarker is an optional interface for efficient bulk read marking.
// When implemented, marking a whole listing as read uses a single store
// operation instead of N individual SetRead calls. All three built-in
// backends implement this.
type BulkReadMarker interface {
	// MarkAllRead marks every unread recipient-role record owned by the
	// user as read. Returns the number of records updated.
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// FindWithCounter is an optional interface that Store implementations can
// implement to return entries and total count in a single query, avoiding
// a separate Count round-trip for list operations.
type FindWithCounter interface {
	FindWithCount(ctx context.Context, filters []Filter, opts ListOptions) (*EntryList, int64, error)
}
