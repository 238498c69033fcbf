package courier

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageLimits holds all message validation limits.
// Used to pass limits to validation functions.
type MessageLimits struct {
	MaxSubjectLength  int
	MaxBodySize       int
	MaxRecipientCount int
}

// MinSubjectLength is the minimum subject length (non-empty after trimming).
const MinSubjectLength = 1

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:  DefaultMaxSubjectLength,
		MaxBodySize:       DefaultMaxBodySize,
		MaxRecipientCount: DefaultMaxRecipientCount,
	}
}

// ValidateSubject validates a message subject using default limits.
// For configurable limits, use ValidateSubjectWithLimits.
func ValidateSubject(subject string) error {
	return ValidateSubjectWithLimits(subject, DefaultLimits())
}

// ValidateSubjectWithLimits validates a message subject against configurable limits.
// The subject limit counts characters, not bytes.
func ValidateSubjectWithLimits(subject string, limits MessageLimits) error {
	// Trim whitespace for validation
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) < MinSubjectLength {
		return ErrEmptySubject
	}

	// Check for valid UTF-8 and no control characters (except newline/tab)
	if !utf8.ValidString(subject) {
		return fmt.Errorf("%w: subject contains invalid UTF-8", ErrInvalidContent)
	}

	if n := utf8.RuneCountInString(subject); n > limits.MaxSubjectLength {
		return fmt.Errorf("%w: subject length %d exceeds max %d", ErrSubjectTooLong, n, limits.MaxSubjectLength)
	}

	for _, r := range subject {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return fmt.Errorf("%w: subject contains control character U+%04X", ErrInvalidContent, r)
		}
	}

	return nil
}

// ValidateBody validates a message body using default limits.
// For configurable limits, use ValidateBodyWithLimits.
func ValidateBody(body string) error {
	return ValidateBodyWithLimits(body, DefaultLimits())
}

// ValidateBodyWithLimits validates a message body against configurable limits.
func ValidateBodyWithLimits(body string, limits MessageLimits) error {
	if len(body) > limits.MaxBodySize {
		return fmt.Errorf("%w: body size %d exceeds max %d bytes", ErrBodyTooLarge, len(body), limits.MaxBodySize)
	}

	// Check for valid UTF-8
	if !utf8.ValidString(body) {
		return fmt.Errorf("%w: body contains invalid UTF-8", ErrInvalidContent)
	}

	// Check for null bytes which could indicate injection attempts
	if strings.ContainsRune(body, '\x00') {
		return fmt.Errorf("%w: body contains null bytes", ErrInvalidContent)
	}

	return nil
}

// ValidateMessageContent validates subject and body together using default limits.
func ValidateMessageContent(subject, body string) error {
	return ValidateMessageContentWithLimits(subject, body, DefaultLimits())
}

// ValidateMessageContentWithLimits validates subject and body with configurable limits.
func ValidateMessageContentWithLimits(subject, body string, limits MessageLimits) error {
	if err := ValidateSubjectWithLimits(subject, limits); err != nil {
		return err
	}
	return ValidateBodyWithLimits(body, limits)
}

// ValidateRecipients validates a recipient email list.
// An empty list is allowed here; Send reports it as a delivery failure
// after resolution, not a validation error.
func ValidateRecipients(emails []string, limits MessageLimits) error {
	if len(emails) > limits.MaxRecipientCount {
		return fmt.Errorf("%w: recipient count %d exceeds max %d", ErrTooManyRecipients, len(emails), limits.MaxRecipientCount)
	}

	// Check for empty addresses (duplicates are silently deduplicated at send time)
	for _, email := range emails {
		if strings.TrimSpace(email) == "" {
			return fmt.Errorf("%w: empty recipient address", ErrInvalidRecipient)
		}
	}

	return nil
}

// ValidateSend performs full validation of an outgoing message.
func ValidateSend(subject, body string, emails []string, limits MessageLimits) error {
	if err := ValidateRecipients(emails, limits); err != nil {
		return err
	}
	return ValidateMessageContentWithLimits(subject, body, limits)
}
