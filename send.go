package courier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kmehta/courier/directory"
	"github.com/kmehta/courier/retry"
	"github.com/kmehta/courier/store"
)

// fanoutRetry governs per-recipient record attachment. Short and bounded: a
// recipient that keeps failing becomes a failed email rather than stalling
// the rest of the fanout.
var fanoutRetry = retry.Config{
	MaxRetries:     2,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
}

// SendRequest contains the data needed to send a message.
type SendRequest struct {
	// RecipientEmails addresses the message. Order is preserved; duplicate
	// strings are collapsed to their first occurrence.
	RecipientEmails []string
	Subject         string
	Body            string
}

// SendResult reports the outcome of a Send.
//
// A send that reaches at least one recipient succeeds even when other
// recipients failed to resolve: Partial is set and FailedEmails lists the
// addresses that could not be delivered. Only a send that reaches nobody
// returns an error (NoValidRecipientsError).
type SendResult struct {
	// Message is the sender's handle to the created message.
	Message Message
	// DeliveredTo lists the resolved user IDs that received a delivery
	// record, in input order. Includes the sender for self-addressed sends.
	DeliveredTo []string
	// FailedEmails lists recipient emails that could not be resolved,
	// in input order.
	FailedEmails []string
	// Partial is true when the message was delivered but FailedEmails is
	// non-empty.
	Partial bool
}

// dedupeEmails collapses duplicate recipient strings, preserving first
// occurrence order. Matching is exact - two spellings of the same address
// are collapsed later, at the identity level.
func dedupeEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	unique := make([]string, 0, len(emails))
	for _, e := range emails {
		if !seen[e] {
			seen[e] = true
			unique = append(unique, e)
		}
	}
	return unique
}

// fanout resolves each deduplicated email and attaches delivery records to
// the already-created message. Returns delivered user IDs and failed emails,
// both in input order.
//
// Identity-level dedup happens here: two different email strings resolving
// to the same account produce one record, and a recipient email resolving to
// the sender promotes the sender's record instead of inserting a second one.
func (c *userClient) fanout(ctx context.Context, messageID string, emails []string) (deliveredTo []string, failedEmails []string) {
	processed := make(map[string]bool, len(emails))

	for i, email := range emails {
		if err := ctx.Err(); err != nil {
			failedEmails = append(failedEmails, emails[i:]...)
			break
		}

		user, err := c.service.directory.ResolveEmail(ctx, email)
		if err != nil {
			if !errors.Is(err, directory.ErrUserNotFound) {
				c.service.logger.Warn("recipient resolution failed",
					"error", err, "email", email)
			}
			failedEmails = append(failedEmails, email)
			continue
		}

		if processed[user.ID] {
			// Second email spelling for an account already delivered to
			// in this call. Skip silently.
			continue
		}

		// AddRecipient promotes the sender's own record for self-addressed
		// sends instead of creating a second row. Transient store errors are
		// retried; everything else fails the recipient immediately.
		err = retry.Do(ctx, fanoutRetry, func(ctx context.Context) error {
			_, err := c.service.store.AddRecipient(ctx, messageID, user.ID)
			return err
		})
		if err != nil {
			c.service.logger.Warn("attach delivery record failed",
				"error", err, "message_id", messageID, "user_id", user.ID)
			failedEmails = append(failedEmails, email)
			continue
		}

		processed[user.ID] = true
		deliveredTo = append(deliveredTo, user.ID)
	}

	return deliveredTo, failedEmails
}

// rollbackMessage removes a message whose every recipient failed.
// The cascade also removes the sender's record.
func (c *userClient) rollbackMessage(ctx context.Context, messageID string) error {
	if err := c.service.store.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("rollback message %s: %w", messageID, err)
	}
	return nil
}

// Send delivers a message to the given recipient emails.
//
// The message is created optimistically before recipients resolve: creating
// first and deleting on total failure avoids a resolve-then-create race
// where recipient accounts vanish between check and use. The cost is a
// transient message that is rolled back when nobody could be reached - a
// NoValidRecipientsError is authoritative deletion confirmation, not a
// retryable transient failure.
func (c *userClient) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	// Deduplicate before validation so the recipient count check reflects
	// the actual number of unique recipients.
	emails := dedupeEmails(req.RecipientEmails)

	if err := ValidateSend(req.Subject, req.Body, emails, c.service.opts.getLimits()); err != nil {
		return nil, err
	}

	// Empty recipient list fails before any resolver or store call.
	if len(emails) == 0 {
		return nil, &NoValidRecipientsError{}
	}

	// Send hooks run after validation and before anything is persisted.
	if err := c.service.plugins.beforeSend(ctx, c.userID, &req); err != nil {
		return nil, err
	}

	// Setup tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "courier.send",
		attribute.String("user_id", c.userID),
		attribute.Int("recipient_count", len(emails)),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		c.service.otel.recordSend(ctx, time.Since(start), len(emails), sendErr)
	}()

	// Acquire send semaphore
	if err := c.service.sendSem.Acquire(ctx, 1); err != nil {
		sendErr = err
		return nil, sendErr
	}
	defer c.service.sendSem.Release(1)

	// Create the message with the sender's record in one atomic store call.
	msg, _, err := c.service.store.CreateMessage(ctx, store.MessageData{
		SenderID: c.userID,
		Subject:  req.Subject,
		Body:     req.Body,
	})
	if err != nil {
		sendErr = fmt.Errorf("create message: %w", err)
		return nil, sendErr
	}

	// Attach a delivery record per resolvable recipient.
	deliveredTo, failedEmails := c.fanout(ctx, msg.GetID(), emails)

	// Total failure: roll the message back and report every failed email.
	if len(deliveredTo) == 0 {
		if rollbackErr := c.rollbackMessage(ctx, msg.GetID()); rollbackErr != nil {
			c.service.logger.Error("rollback after total fanout failure failed",
				"error", rollbackErr, "message_id", msg.GetID())
		}
		sendErr = &NoValidRecipientsError{FailedEmails: failedEmails}
		return nil, sendErr
	}

	result := &SendResult{
		DeliveredTo:  deliveredTo,
		FailedEmails: failedEmails,
		Partial:      len(failedEmails) > 0,
	}

	// Re-fetch through the viewer path so the handle carries the sender's
	// record with its final role (promoted on self-addressed sends).
	entry, err := c.service.store.GetMessage(ctx, msg.GetID(), c.userID)
	if err != nil {
		sendErr = fmt.Errorf("fetch sent message: %w", err)
		return nil, sendErr
	}
	result.Message = newMessage(entry, c)

	sentEvent := MessageSentEvent{
		MessageID:    msg.GetID(),
		SenderID:     c.userID,
		RecipientIDs: deliveredTo,
		Subject:      msg.GetSubject(),
		Partial:      result.Partial,
		SentAt:       time.Now().UTC(),
	}
	c.service.applySentStats(sentEvent)

	// Publish event - message is already delivered, so an event failure
	// only fails the call when eventErrorsFatal is set.
	if err := c.service.events.MessageSent.Publish(ctx, sentEvent); err != nil {
		if c.service.opts.eventErrorsFatal {
			sendErr = &EventPublishError{
				Event:     "MessageSent",
				MessageID: msg.GetID(),
				Err:       err,
			}
			return result, sendErr
		}
		c.service.opts.safeEventPublishFailure("MessageSent", err)
	}

	// Post-send hooks see the final result. The message is already
	// delivered, so a hook error accompanies the result rather than
	// voiding it.
	if err := c.service.plugins.afterSend(ctx, c.userID, result); err != nil {
		sendErr = err
		return result, sendErr
	}

	return result, nil
}
