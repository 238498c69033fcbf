package courier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kmehta/courier/store"
)

// Sentinel errors for the courier package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, courier.ErrNotFound) will match both courier-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a message cannot be found or the caller
	// holds no delivery record for it.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("courier: %w", store.ErrNotFound)

	// ErrUnauthorized is returned when a user doesn't have access to a message.
	ErrUnauthorized = errors.New("courier: unauthorized")

	// ErrInvalidMessage is returned for message validation failures.
	ErrInvalidMessage = errors.New("courier: invalid message")

	// ErrEmptyRecipients is returned when no recipients are provided.
	ErrEmptyRecipients = errors.New("courier: empty recipients")

	// ErrEmptySubject is returned when subject is empty.
	ErrEmptySubject = errors.New("courier: empty subject")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("courier: store is required")

	// ErrDirectoryRequired is returned when no user directory is configured.
	ErrDirectoryRequired = errors.New("courier: directory is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("courier: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("courier: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an invalid ID is provided.
	// Wraps store.ErrInvalidID for consistent error checking.
	ErrInvalidID = fmt.Errorf("courier: %w", store.ErrInvalidID)

	// ErrDuplicateEntry is returned when a duplicate entry is detected.
	// Wraps store.ErrDuplicateEntry for consistent error checking.
	ErrDuplicateEntry = fmt.Errorf("courier: %w", store.ErrDuplicateEntry)

	// ErrFilterInvalid is returned when a filter is invalid.
	// Wraps store.ErrFilterInvalid for consistent error checking.
	ErrFilterInvalid = fmt.Errorf("courier: %w", store.ErrFilterInvalid)

	// ErrStoreUnavailable is returned when the backing store is unreachable.
	// Wraps store.ErrUnavailable for consistent error checking.
	ErrStoreUnavailable = fmt.Errorf("courier: %w", store.ErrUnavailable)

	// ErrRecordNotFound is returned when the caller holds no delivery record
	// for a message that may otherwise exist.
	ErrRecordNotFound = fmt.Errorf("courier: delivery record %w", store.ErrNotFound)

	// ErrNotRecipient is returned when a read-state transition is attempted
	// on a message the caller only sent. Wraps store.ErrNotFound so callers
	// branching on the coarser not-found class still match.
	ErrNotRecipient = fmt.Errorf("courier: not a recipient: %w", store.ErrNotFound)

	// ErrSubjectTooLong is returned when subject exceeds maximum length.
	ErrSubjectTooLong = errors.New("courier: subject too long")

	// ErrBodyTooLarge is returned when body exceeds maximum size.
	ErrBodyTooLarge = errors.New("courier: body too large")

	// ErrInvalidContent is returned when message content contains invalid characters.
	ErrInvalidContent = errors.New("courier: invalid content")

	// ErrTooManyRecipients is returned when recipient count exceeds the limit.
	ErrTooManyRecipients = errors.New("courier: too many recipients")

	// ErrInvalidRecipient is returned when a recipient email is invalid.
	ErrInvalidRecipient = errors.New("courier: invalid recipient")

	// ErrInvalidUserID is returned when a user ID contains invalid characters.
	ErrInvalidUserID = errors.New("courier: invalid user id")
)

// NoValidRecipientsError is returned by Send when every recipient failed to
// resolve. No message exists after this error - the optimistically created
// message is rolled back before the error is returned.
type NoValidRecipientsError struct {
	// FailedEmails lists the recipient emails that could not be resolved,
	// in input order with duplicates collapsed.
	FailedEmails []string
}

func (e *NoValidRecipientsError) Error() string {
	return fmt.Sprintf("courier: no valid recipients (failed: %s)", strings.Join(e.FailedEmails, ", "))
}

func (e *NoValidRecipientsError) Unwrap() error {
	return ErrEmptyRecipients
}

// IsNoValidRecipients checks if the error means every recipient failed and
// returns the details.
func IsNoValidRecipients(err error) (*NoValidRecipientsError, bool) {
	var nvr *NoValidRecipientsError
	if errors.As(err, &nvr) {
		return nvr, true
	}
	return nil, false
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
// Handles both courier-level and store-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Permanent errors that should not be retried (courier-level)
	permanentErrors := []error{
		ErrNotFound,
		ErrUnauthorized,
		ErrInvalidMessage,
		ErrEmptyRecipients,
		ErrEmptySubject,
		ErrInvalidID,
		ErrSubjectTooLong,
		ErrBodyTooLarge,
		ErrInvalidContent,
		ErrTooManyRecipients,
		ErrInvalidRecipient,
		ErrInvalidUserID,
		ErrNotRecipient,
		ErrDuplicateEntry,
		ErrFilterInvalid,
	}

	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Also check store-level permanent errors (in case they bubble up unwrapped)
	storePermanentErrors := []error{
		store.ErrNotFound,
		store.ErrInvalidID,
		store.ErrDuplicateEntry,
		store.ErrFilterInvalid,
	}

	for _, permErr := range storePermanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Retryable errors
	retryableErrors := []error{
		ErrNotConnected,            // Connection can be re-established
		store.ErrNotConnected,      // Store connection can be re-established
		store.ErrUnavailable,       // Backend may come back
		store.ErrTransactionFailed, // Transaction can be retried
	}

	for _, retryErr := range retryableErrors {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	// For unknown errors, default to retryable (conservative approach)
	// as they might be transient network/timeout issues
	return true
}

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("courier: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// EventPublishError is returned when event publishing fails but the operation
// succeeded. The message was sent/read/deleted, but the event notification
// failed. Check the MessageID field to identify which message this applies to.
type EventPublishError struct {
	Event     string // The event name (e.g., "MessageSent", "MessageRead")
	MessageID string // The message ID the event was for
	Err       error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("courier: event %s publish failed for message %s: %v", e.Event, e.MessageID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
// This is useful when eventErrorsFatal=true but you still want to know the message was sent.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}
