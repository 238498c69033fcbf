// Package directory provides user lookup and authentication for courier.
//
// The courier service resolves recipient emails through a Directory; the
// Static implementation in this package backs tests and simple deployments,
// while production systems plug in their own user service.
package directory

import (
	"context"
	"errors"
	"strings"
)

// Directory errors.
var (
	// ErrUserNotFound is returned when no user matches the given email or ID.
	ErrUserNotFound = errors.New("directory: user not found")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("directory: email already registered")

	// ErrBadCredentials is returned when authentication fails. The caller
	// cannot distinguish a wrong password from an unknown email.
	ErrBadCredentials = errors.New("directory: invalid credentials")

	// ErrInvalidEmail is returned when an email is empty or malformed.
	ErrInvalidEmail = errors.New("directory: invalid email")
)

// User describes a directory entry.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	AvatarURL string
}

// Directory resolves users by email or ID.
//
// Implementations must be safe for concurrent use. ResolveEmail is on the
// send hot path: the fanout engine calls it once per distinct recipient.
type Directory interface {
	// ResolveEmail returns the user registered under the given email.
	// The email is matched case-insensitively. Returns ErrUserNotFound
	// when no user is registered under it.
	ResolveEmail(ctx context.Context, email string) (*User, error)

	// Lookup returns the user with the given ID.
	Lookup(ctx context.Context, id string) (*User, error)
}

// Authenticator is an optional interface for directories that can verify
// credentials.
type Authenticator interface {
	// Authenticate verifies an email/password pair and returns the user.
	// Returns ErrBadCredentials on any mismatch.
	Authenticate(ctx context.Context, email, password string) (*User, error)
}

// NormalizeEmail lowercases and trims an email address. All directory
// implementations and the fanout engine use the same normalization, so
// "A@x.com" and "a@x.com " address the same user.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
