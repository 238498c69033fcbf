package courier

import (
	"context"
	"fmt"
	"time"

	"github.com/kmehta/courier/store"
)

// RecordReader exposes the viewer's own delivery record for a message.
type RecordReader interface {
	// GetRole returns the viewer's role on the message.
	GetRole() store.Role
	// GetIsRead returns the viewer's read flag.
	GetIsRead() bool
	// GetReadAt returns when the viewer read the message, or nil.
	GetReadAt() *time.Time
}

// MessageMutator provides mutation operations on a single message,
// scoped to the viewer's own delivery record.
type MessageMutator interface {
	// MarkRead marks the message as read. Idempotent.
	MarkRead(ctx context.Context) error

	// MarkUnread clears the read flag. Idempotent.
	MarkUnread(ctx context.Context) error

	// Delete removes the message from the viewer's ledger. When the viewer
	// held the last delivery record, the message itself is deleted.
	Delete(ctx context.Context) (store.DeleteOutcome, error)
}

// Message provides access to a message with the viewer's delivery state.
//
// This is the application-level message type returned by Client operations.
// It pairs store.Message (the shared, immutable message) with the viewer's
// own delivery record, and adds viewer-scoped mutations.
//
// Important: Message is a snapshot of state at retrieval time. After
// mutations, record getters (GetIsRead, GetRole) may return stale values.
// To get fresh state after mutations, call Client.Get() again.
type Message interface {
	store.Message
	RecordReader
	MessageMutator
}

// message is the internal implementation of Message.
// Authorization is implicit: an entry only exists when the viewer holds a
// delivery record for the message.
type message struct {
	store.Message
	record store.Record
	client *userClient
}

// newMessage wraps a store.Entry with client operations.
func newMessage(entry *store.Entry, c *userClient) *message {
	return &message{
		Message: entry.Message,
		record:  entry.Record,
		client:  c,
	}
}

// Record getters, delegated to the viewer's delivery record.

func (m *message) GetRole() store.Role   { return m.record.GetRole() }
func (m *message) GetIsRead() bool       { return m.record.GetIsRead() }
func (m *message) GetReadAt() *time.Time { return m.record.GetReadAt() }

// MarkRead marks the message as read.
// Delegates to userClient.MarkRead to ensure consistent event publishing.
func (m *message) MarkRead(ctx context.Context) error {
	return m.client.MarkRead(ctx, m.GetID())
}

// MarkUnread clears the read flag.
// Delegates to userClient.MarkUnread for consistent behavior.
func (m *message) MarkUnread(ctx context.Context) error {
	return m.client.MarkUnread(ctx, m.GetID())
}

// Delete removes the message from the viewer's ledger.
// Delegates to userClient.Delete for consistent event publishing.
func (m *message) Delete(ctx context.Context) (store.DeleteOutcome, error) {
	return m.client.Delete(ctx, m.GetID())
}

// Compile-time check that message implements Message.
var _ Message = (*message)(nil)

// MessageListReader provides read-only access to a paginated list of messages.
type MessageListReader interface {
	// All returns all messages in this list.
	All() []Message
	// Total returns the total count of messages matching the query (not just this page).
	Total() int64
	// HasMore returns true if there are more messages after this page.
	HasMore() bool
	// NextCursor returns the cursor for fetching the next page.
	NextCursor() string
	// IDs returns the IDs of all messages in this list.
	IDs() []string
}

// MessageListMutator provides bulk mutation operations on a list of messages.
type MessageListMutator interface {
	// MarkRead marks all messages in this list as read.
	MarkRead(ctx context.Context) (*BulkResult, error)
	// MarkUnread marks all messages in this list as unread.
	MarkUnread(ctx context.Context) (*BulkResult, error)
	// Delete removes all messages in this list from the viewer's ledger.
	Delete(ctx context.Context) (*BulkResult, error)
}

// MessageList provides access to a paginated list of messages with bulk operations.
//
// Composed of:
//   - MessageListReader: Read-only access (All, Total, HasMore, NextCursor, IDs)
//   - MessageListMutator: Bulk mutations (MarkRead, MarkUnread, Delete)
type MessageList interface {
	MessageListReader
	MessageListMutator
}

// OperationResult contains the result of a single operation within a bulk operation.
// Results are returned in the same order as the input items.
type OperationResult struct {
	// ID is the identifier of the item that was processed.
	ID string
	// Success indicates whether the operation succeeded.
	Success bool
	// Error contains the error if the operation failed (nil if successful).
	Error error
}

// BulkResult contains the result of a bulk operation.
//
// Results are returned in order, matching the input order.
// Use helper methods to check status and iterate results.
type BulkResult struct {
	// Results contains the outcome of each operation in input order.
	Results []OperationResult
}

// SuccessCount returns the number of successful operations.
func (r *BulkResult) SuccessCount() int {
	count := 0
	for _, res := range r.Results {
		if res.Success {
			count++
		}
	}
	return count
}

// FailureCount returns the number of failed operations.
func (r *BulkResult) FailureCount() int {
	count := 0
	for _, res := range r.Results {
		if !res.Success {
			count++
		}
	}
	return count
}

// HasFailures returns true if any operations failed.
func (r *BulkResult) HasFailures() bool {
	for _, res := range r.Results {
		if !res.Success {
			return true
		}
	}
	return false
}

// TotalCount returns the total number of items processed.
func (r *BulkResult) TotalCount() int {
	return len(r.Results)
}

// FailedIDs returns the IDs of items that failed.
func (r *BulkResult) FailedIDs() []string {
	var ids []string
	for _, res := range r.Results {
		if !res.Success {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// SuccessfulIDs returns the IDs of items that succeeded.
func (r *BulkResult) SuccessfulIDs() []string {
	var ids []string
	for _, res := range r.Results {
		if res.Success {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Err returns an error if there are failures, nil otherwise.
func (r *BulkResult) Err() error {
	if !r.HasFailures() {
		return nil
	}
	return &BulkOperationError{Result: r}
}

// BulkOperationError is returned when a bulk operation has partial failures.
// It wraps BulkResult to provide error interface while guaranteeing non-empty Error().
type BulkOperationError struct {
	Result *BulkResult
}

// Error implements the error interface.
// Always returns a non-empty string describing the failure.
func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("courier: bulk operation failed for %d of %d items",
		e.Result.FailureCount(), e.Result.TotalCount())
}

// messageList is the internal implementation of MessageList.
type messageList struct {
	messages   []Message
	total      int64
	hasMore    bool
	nextCursor string
	client     *userClient
}

// wrapEntryList converts a store.EntryList to a courier.MessageList.
func wrapEntryList(list *store.EntryList, c *userClient) MessageList {
	messages := make([]Message, len(list.Entries))
	for i := range list.Entries {
		messages[i] = newMessage(&list.Entries[i], c)
	}
	return &messageList{
		messages:   messages,
		total:      list.Total,
		hasMore:    list.HasMore,
		nextCursor: list.NextCursor,
		client:     c,
	}
}

// Data access methods

func (l *messageList) All() []Message     { return l.messages }
func (l *messageList) Total() int64       { return l.total }
func (l *messageList) HasMore() bool      { return l.hasMore }
func (l *messageList) NextCursor() string { return l.nextCursor }

func (l *messageList) IDs() []string {
	ids := make([]string, len(l.messages))
	for i, msg := range l.messages {
		ids[i] = msg.GetID()
	}
	return ids
}

// Bulk operations

func (l *messageList) MarkRead(ctx context.Context) (*BulkResult, error) {
	return l.bulkSetRead(ctx, true)
}

func (l *messageList) MarkUnread(ctx context.Context) (*BulkResult, error) {
	return l.bulkSetRead(ctx, false)
}

func (l *messageList) Delete(ctx context.Context) (*BulkResult, error) {
	result := &BulkResult{Results: make([]OperationResult, 0, len(l.messages))}

	for _, msg := range l.messages {
		res := OperationResult{ID: msg.GetID()}
		if _, err := msg.Delete(ctx); err != nil {
			res.Error = err
		} else {
			res.Success = true
		}
		result.Results = append(result.Results, res)
	}

	return result, result.Err()
}

// bulkSetRead applies a read-flag change to all messages in the list.
func (l *messageList) bulkSetRead(ctx context.Context, read bool) (*BulkResult, error) {
	result := &BulkResult{Results: make([]OperationResult, 0, len(l.messages))}

	for _, msg := range l.messages {
		res := OperationResult{ID: msg.GetID()}
		var err error
		if read {
			err = msg.MarkRead(ctx)
		} else {
			err = msg.MarkUnread(ctx)
		}
		if err != nil {
			res.Error = err
		} else {
			res.Success = true
		}
		result.Results = append(result.Results, res)
	}

	return result, result.Err()
}

// Compile-time check that messageList implements MessageList.
var _ MessageList = (*messageList)(nil)
