// Package courier provides a per-user direct-messaging library for Go.
//
// A message is written once and fanned out to its recipients: each
// participant holds an independent delivery record describing their
// relationship to the message (sender, recipient, or both for
// self-addressed mail), its read state, and its lifecycle. Records can be
// read, listed, searched, and deleted per user; a message is removed from
// storage when its last delivery record goes away.
//
// # Basic Usage
//
//	// Create in-memory store for testing
//	store := memory.New()
//
//	// Users are resolved by email through a Directory
//	users := directory.NewStatic(
//	    &directory.User{ID: "u1", Email: "alice@example.com"},
//	    &directory.User{ID: "u2", Email: "bob@example.com"},
//	)
//
//	svc, err := courier.NewService(
//	    courier.WithStore(store),
//	    courier.WithDirectory(users),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes indexes/schema
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// Get a client scoped to a user
//	c := svc.Client("u1")
//
//	result, err := c.Send(ctx, courier.SendRequest{
//	    Subject:         "Hello",
//	    Body:            "World",
//	    RecipientEmails: []string{"bob@example.com"},
//	})
//
// Send succeeds as long as at least one recipient resolves; unresolved
// emails are reported in SendResult.FailedEmails rather than failing the
// whole call.
//
// # Client Operations
//
//   - Send: Create a message and fan it out to recipients
//   - Get: Retrieve a message by ID, paired with the caller's record
//   - List: List entries (all, sent, received, unread)
//   - Search: Substring search over subject and body
//   - MarkRead/MarkUnread/MarkAllRead: Read-state management
//   - Delete: Remove the caller's record, cascading to the message
//     when it was the last one
//   - Stats: Cached per-user message counts
//
// # Storage Backends
//
// The store package provides implementations for:
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - PostgreSQL (store/postgres) - accepts *sql.DB or *sqlx.DB
//   - In-memory (store/memory) - for testing
//
// # Events
//
// Courier publishes typed events for message lifecycle notifications.
// Events use the github.com/rbaliyan/event/v3 library which supports
// multiple transports (Redis Streams, NATS, Kafka, in-memory channel).
//
// Without a transport the bus is a no-op: publishes succeed but
// subscriptions never receive messages. To enable delivery, pass
// WithRedisClient or WithEventTransport when creating the service:
//
//	svc, err := courier.NewService(
//	    courier.WithStore(store),
//	    courier.WithDirectory(users),
//	    courier.WithRedisClient(redisClient),
//	)
//
// Events are automatically registered during Connect(). Access per-service
// events via the Events() method:
//
//	events := svc.Events()
//	events.MessageSent.Subscribe(ctx, handler)
//	events.MessageRead.Subscribe(ctx, handler)
//	events.RecordDeleted.Subscribe(ctx, handler)
//
// Available events:
//   - MessageSent - when a message is created and fanned out
//   - MessageRead - when a record's read state changes
//   - RecordDeleted - when a delivery record is deleted
package courier
