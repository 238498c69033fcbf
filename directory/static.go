package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Static is a map-based Directory for testing and simple deployments.
// Users can be seeded at construction or registered at runtime.
// Safe for concurrent use.
type Static struct {
	mu      sync.RWMutex
	byEmail map[string]*User
	byID    map[string]*User
	creds   map[string][]byte // userID -> bcrypt hash
}

// NewStatic creates a Static directory seeded with the given users.
// Seeded users have no password and cannot authenticate until Register
// is called for their email.
func NewStatic(users ...*User) *Static {
	s := &Static{
		byEmail: make(map[string]*User, len(users)),
		byID:    make(map[string]*User, len(users)),
		creds:   make(map[string][]byte),
	}
	for _, u := range users {
		if u == nil || u.Email == "" {
			continue
		}
		c := *u
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.Email = NormalizeEmail(c.Email)
		s.byEmail[c.Email] = &c
		s.byID[c.ID] = &c
	}
	return s
}

// Register adds a new user with the given credentials and returns it.
// Returns ErrEmailTaken if the email is already registered.
func (s *Static) Register(_ context.Context, email, password, firstName, lastName string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, ErrEmailTaken
	}

	u := &User{
		ID:        uuid.New().String(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
	}
	s.byEmail[email] = u
	s.byID[u.ID] = u
	s.creds[u.ID] = hash

	c := *u
	return &c, nil
}

// ResolveEmail returns the user registered under the given email.
func (s *Static) ResolveEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// Lookup returns the user with the given ID.
func (s *Static) Lookup(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// Authenticate verifies an email/password pair.
// Returns ErrBadCredentials on any mismatch so callers cannot probe for
// registered emails.
func (s *Static) Authenticate(_ context.Context, email, password string) (*User, error) {
	s.mu.RLock()
	u, ok := s.byEmail[NormalizeEmail(email)]
	var hash []byte
	if ok {
		hash = s.creds[u.ID]
	}
	s.mu.RUnlock()

	if !ok || hash == nil {
		// Burn a comparison anyway to keep timing uniform.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	c := *u
	return &c, nil
}

// SetAvatarURL updates a user's avatar location after an upload.
func (s *Static) SetAvatarURL(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.AvatarURL = url
	return nil
}

// dummyHash is compared against when the email is unknown.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("courier-dummy"), bcrypt.DefaultCost)

// Compile-time checks
var (
	_ Directory     = (*Static)(nil)
	_ Authenticator = (*Static)(nil)
)
