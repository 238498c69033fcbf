package courier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kmehta/courier/store"
)

// MarkRead marks the caller's delivery record as read.
// Idempotent - marking an already-read message succeeds.
// Returns ErrNotRecipient for messages the caller only sent.
func (c *userClient) MarkRead(ctx context.Context, messageID string) error {
	return c.setRead(ctx, messageID, true)
}

// MarkUnread clears the read flag on the caller's delivery record.
// Idempotent.
func (c *userClient) MarkUnread(ctx context.Context, messageID string) error {
	return c.setRead(ctx, messageID, false)
}

// setRead applies a read-flag transition and publishes the read event.
func (c *userClient) setRead(ctx context.Context, messageID string, read bool) error {
	if err := c.checkAccess(); err != nil {
		return err
	}
	if messageID == "" {
		return fmt.Errorf("%w: empty message ID", ErrInvalidID)
	}

	op := "mark_read"
	if !read {
		op = "mark_unread"
	}

	// OTel tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "courier."+op,
		attribute.String("user_id", c.userID),
		attribute.String("message_id", messageID),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		c.service.otel.recordUpdate(ctx, time.Since(start), op, opErr)
	}()

	if err := c.service.store.SetRead(ctx, messageID, c.userID, read); err != nil {
		// The store reports "no recipient record" as not found; distinguish
		// sender-only access for callers that hold the message.
		if errors.Is(err, store.ErrNotFound) {
			opErr = c.classifyRecordError(ctx, messageID)
			return opErr
		}
		opErr = fmt.Errorf("set read: %w", err)
		return opErr
	}

	readEvent := MessageReadEvent{
		MessageID: messageID,
		UserID:    c.userID,
		IsRead:    read,
		ReadAt:    time.Now().UTC(),
	}
	c.service.applyReadStats(readEvent)

	if err := c.service.events.MessageRead.Publish(ctx, readEvent); err != nil {
		if c.service.opts.eventErrorsFatal {
			opErr = &EventPublishError{
				Event:     "MessageRead",
				MessageID: messageID,
				Err:       err,
			}
			return opErr
		}
		c.service.opts.safeEventPublishFailure("MessageRead", err)
	}

	return nil
}

// classifyRecordError distinguishes "no record at all" from "sender-only
// record" after a read transition was rejected.
func (c *userClient) classifyRecordError(ctx context.Context, messageID string) error {
	entry, err := c.service.store.GetMessage(ctx, messageID, c.userID)
	if err != nil {
		return fmt.Errorf("set read: %w", ErrRecordNotFound)
	}
	if !entry.Record.GetRole().IsRecipient() {
		return fmt.Errorf("set read on %s: %w", messageID, ErrNotRecipient)
	}
	return fmt.Errorf("set read: %w", ErrRecordNotFound)
}

// MarkAllRead marks every unread received message as read.
// Returns the number of records updated.
func (c *userClient) MarkAllRead(ctx context.Context) (int64, error) {
	if err := c.checkAccess(); err != nil {
		return 0, err
	}

	// OTel tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "courier.mark_all_read",
		attribute.String("user_id", c.userID),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		c.service.otel.recordUpdate(ctx, time.Since(start), "mark_all_read", opErr)
	}()

	// Fast path: single store operation when supported.
	if bm, ok := c.service.store.(store.BulkReadMarker); ok {
		updated, err := bm.MarkAllRead(ctx, c.userID)
		if err != nil {
			opErr = fmt.Errorf("mark all read: %w", err)
			return 0, opErr
		}
		c.service.applyBulkReadStats(c.userID, updated)
		return updated, nil
	}

	// Slow path: page through unread entries and mark individually.
	var updated int64
	filters := []store.Filter{
		store.ViewerIs(c.userID),
		store.ReceivedBy(),
		store.IsReadFilter(false),
	}
	for {
		list, err := c.service.store.Find(ctx, filters, store.ListOptions{
			Limit: c.service.opts.maxQueryLimit,
		})
		if err != nil {
			opErr = fmt.Errorf("find unread: %w", err)
			return updated, opErr
		}
		if len(list.Entries) == 0 {
			c.service.applyBulkReadStats(c.userID, updated)
			return updated, nil
		}
		for i := range list.Entries {
			id := list.Entries[i].Message.GetID()
			if err := c.service.store.SetRead(ctx, id, c.userID, true); err != nil {
				opErr = fmt.Errorf("mark %s read: %w", id, err)
				return updated, opErr
			}
			updated++
		}
	}
}

// Delete removes the message from the caller's ledger.
// When the caller held the last delivery record, the message itself is
// deleted in the same transaction and MessageFullyDeleted is returned.
func (c *userClient) Delete(ctx context.Context, messageID string) (store.DeleteOutcome, error) {
	if err := c.checkAccess(); err != nil {
		return store.RecordRemoved, err
	}
	if messageID == "" {
		return store.RecordRemoved, fmt.Errorf("%w: empty message ID", ErrInvalidID)
	}

	// OTel tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "courier.delete",
		attribute.String("user_id", c.userID),
		attribute.String("message_id", messageID),
	)
	start := time.Now()
	var opErr error
	var outcome store.DeleteOutcome
	defer func() {
		endSpan(opErr)
		c.service.otel.recordDelete(ctx, time.Since(start), outcome == store.MessageFullyDeleted, opErr)
	}()

	outcome, err := c.service.store.DeleteRecord(ctx, messageID, c.userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			opErr = fmt.Errorf("delete %s: %w", messageID, ErrRecordNotFound)
			return store.RecordRemoved, opErr
		}
		opErr = fmt.Errorf("delete record: %w", err)
		return store.RecordRemoved, opErr
	}

	if outcome == store.MessageFullyDeleted {
		c.service.logger.Debug("last delivery record removed, message deleted",
			"message_id", messageID, "user_id", c.userID)
	}

	deletedEvent := RecordDeletedEvent{
		MessageID: messageID,
		UserID:    c.userID,
		Cascaded:  outcome == store.MessageFullyDeleted,
		DeletedAt: time.Now().UTC(),
	}
	c.service.applyDeletedStats(deletedEvent)

	if err := c.service.events.RecordDeleted.Publish(ctx, deletedEvent); err != nil {
		if c.service.opts.eventErrorsFatal {
			opErr = &EventPublishError{
				Event:     "RecordDeleted",
				MessageID: messageID,
				Err:       err,
			}
			return outcome, opErr
		}
		c.service.opts.safeEventPublishFailure("RecordDeleted", err)
	}

	return outcome, nil
}
