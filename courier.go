package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"

	"github.com/kmehta/courier/directory"
	"github.com/kmehta/courier/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the courier package without importing store directly.
type (
	ListOptions = store.ListOptions
	SortOrder   = store.SortOrder
	Role        = store.Role
)

// Re-exported store constants.
const (
	SortAsc  = store.SortAsc
	SortDesc = store.SortDesc

	RoleSender    = store.RoleSender
	RoleRecipient = store.RoleRecipient
	RoleBoth      = store.RoleBoth
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the messaging system (server-side).
// It handles connections to storage and creates per-user clients.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error
	// Client returns a messaging client for the given user.
	// The returned client shares the service's connections.
	Client(userID string) Client
	// Directory returns the user directory the service resolves
	// recipients against.
	Directory() directory.Directory
	// Events returns per-service event instances for subscribing and publishing.
	// Each service has its own events bound to its own event bus, enabling
	// independent event routing and parallel testing.
	Events() *ServiceEvents
	// PurgeLedger removes every delivery record a user holds, cascading
	// message deletion where the purged record was the last one.
	PurgeLedger(ctx context.Context, userID string) (*PurgeResult, error)
}

// MessageReader provides single message retrieval.
type MessageReader interface {
	// Get returns the message with the caller's own delivery record.
	// Returns ErrNotFound when the caller holds no record for it, even if
	// the message exists for other users.
	Get(ctx context.Context, messageID string) (Message, error)
}

// MessageLister provides ledger listing.
type MessageLister interface {
	// List returns the caller's entries matching the given filter.
	List(ctx context.Context, filter ListFilter, opts store.ListOptions) (MessageList, error)
}

// MessageSearcher provides message search capability.
type MessageSearcher interface {
	// Search performs substring search over subject and body within the
	// caller's own ledger.
	Search(ctx context.Context, query string, opts store.ListOptions) (MessageList, error)
}

// MessageStreamer provides pull-based streaming access to large result
// sets without loading whole pages into memory.
type MessageStreamer interface {
	// Stream returns an iterator over the caller's entries, newest first.
	Stream(ctx context.Context, filter ListFilter, opts StreamOptions) (MessageIterator, error)
	// StreamSearch returns an iterator over search results within the
	// caller's ledger.
	StreamSearch(ctx context.Context, query string, opts StreamOptions) (MessageIterator, error)
}

// MessageSender provides message fanout.
type MessageSender interface {
	// Send delivers a message to the given recipient emails.
	// See SendResult for partial-success reporting.
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// LedgerMutator provides per-record state transitions by message ID.
type LedgerMutator interface {
	// MarkRead marks the caller's delivery record as read. Idempotent.
	// Returns ErrNotRecipient for messages the caller only sent.
	MarkRead(ctx context.Context, messageID string) error
	// MarkUnread clears the read flag. Idempotent.
	MarkUnread(ctx context.Context, messageID string) error
	// MarkAllRead marks every unread received message as read and returns
	// the number of records updated.
	MarkAllRead(ctx context.Context) (int64, error)
	// Delete removes the message from the caller's ledger. When the
	// caller held the last delivery record, the message itself is deleted
	// and MessageFullyDeleted is returned.
	Delete(ctx context.Context, messageID string) (store.DeleteOutcome, error)
}

// StatsReader provides aggregate ledger statistics.
type StatsReader interface {
	Stats(ctx context.Context) (*Stats, error)
}

// Client provides per-user messaging functionality.
// This is the main interface for courier operations.
//
// Composed of focused interfaces:
//   - MessageSender: fanout delivery (Send)
//   - MessageReader: single message retrieval (Get)
//   - MessageLister: ledger listing (List)
//   - MessageSearcher: substring search (Search)
//   - MessageStreamer: iterator streaming (Stream, StreamSearch)
//   - LedgerMutator: read flags and deletes (MarkRead, MarkUnread, MarkAllRead, Delete)
//   - StatsReader: aggregate counts (Stats)
//
// For bulk operations on listed messages, use the methods on MessageList:
//
//	unread, _ := client.List(ctx, courier.ReceivedUnread, opts)
//	unread.MarkRead(ctx) // mark the whole page as read
type Client interface {
	UserID() string
	MessageSender
	MessageReader
	MessageLister
	MessageSearcher
	MessageStreamer
	LedgerMutator
	StatsReader
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store     store.Store
	directory directory.Directory
	logger    *slog.Logger
	opts      *options
	state     int32 // stateDisconnected, stateConnecting, or stateConnected
	otel      *otelInstrumentation
	sendSem   *semaphore.Weighted // Limits concurrent sends to prevent resource exhaustion
	eventBus  *event.Bus          // Event bus for publishing events
	events    *ServiceEvents      // Per-service event instances
	plugins   *pluginRegistry

	statsCache sync.Map // userID -> *statsEntry
}

// NewService creates a new courier service.
// Call Connect() to establish connections to backends.
//
// Caching is NOT included in this library. If you need caching, wrap your
// store with a caching decorator. This keeps the library focused on
// messaging while letting you control caching strategy.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}
	if o.directory == nil {
		return nil, ErrDirectoryRequired
	}

	// Initialize OTel instrumentation
	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	return &service{
		store:     o.store,
		directory: o.directory,
		logger:    o.logger,
		opts:      o,
		otel:      otelInstr,
		sendSem:   semaphore.NewWeighted(int64(o.maxConcurrentSends)),
		plugins:   plugins,
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// Directory returns the configured user directory.
func (s *service) Directory() directory.Directory {
	return s.directory
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// Use three-state to prevent Client() from seeing partial initialization
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	// Initialize event bus with appropriate transport
	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		if s.eventBus != nil {
			s.eventBus.Close(ctx)
		}
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("courier service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
// Each service creates its own bus and its own event instances.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "courier"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	// Create and register per-service events (unique per service instance).
	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close closes connections to storage backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Wait for in-flight send operations to complete (graceful shutdown).
	// After setting state to disconnected, no new sends can start because checkAccess fails.
	// We acquire all semaphore slots to wait for existing operations to finish.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		// Context cancelled or deadline exceeded - log but continue shutdown
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
		s.logger.Info("all in-flight operations completed")
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	// Close event bus only if using a real transport.
	// For noop transport, the bus doesn't hold resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a messaging client for the given user.
func (s *service) Client(userID string) Client {
	return &userClient{
		userID:      userID,
		service:     s,
		validUserID: isValidUserID(userID),
	}
}

// isValidUserID checks if a user ID is valid.
// Valid user IDs are non-empty and contain only safe characters.
// This prevents cache key injection and other security issues.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	// Allow alphanumeric, hyphen, underscore, period, at-sign
	// Disallow: *, :, /, \, spaces, and control characters
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}

// userClient is the default implementation of Client.
type userClient struct {
	userID      string
	service     *service
	validUserID bool // set by Client() after validation
}

// UserID returns the user ID of this client.
func (c *userClient) UserID() string {
	return c.userID
}

// isConnected checks if the service is connected.
func (c *userClient) isConnected() bool {
	return atomic.LoadInt32(&c.service.state) == stateConnected
}

// checkAccess verifies the client is ready for operations.
// Returns ErrNotConnected if service isn't connected,
// or ErrInvalidUserID if user ID failed validation.
func (c *userClient) checkAccess() error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	if !c.validUserID {
		return ErrInvalidUserID
	}
	return nil
}
