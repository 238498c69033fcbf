// Package mongo provides a MongoDB implementation of store.Store.
//
// Messages and delivery records live in separate collections joined by the
// message UUID. Multi-document invariants (create message with sender
// record, cascade delete on last record) run inside client sessions with
// transactions, so the backend requires a replica set or mongos.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kmehta/courier/store"
)

// Compile-time checks
var _ store.Store = (*Store)(nil)
var _ store.BulkReadMarker = (*Store)(nil)
var _ store.FindWithCounter = (*Store)(nil)

// regexMetaChars matches regex metacharacters that need escaping.
var regexMetaChars = regexp.MustCompile(`[\\^$.|?*+()[\]{}]`)

// escapeRegex escapes regex metacharacters in a string to prevent regex injection.
func escapeRegex(s string) string {
	return regexMetaChars.ReplaceAllString(s, `\$0`)
}

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	messages  *mongo.Collection
	records   *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.messages = s.db.Collection(s.opts.messagesCollection)
	s.records = s.db.Collection(s.opts.recordsCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB",
		"database", s.opts.database,
		"messages_collection", s.opts.messagesCollection,
		"records_collection", s.opts.recordsCollection,
	)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "sender_id", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "created_at", Value: -1}}},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	recordIndexes := []mongo.IndexModel{
		// One record per (message, user). The unique index carries the
		// dedup guarantee for concurrent fanouts.
		{
			Keys: bson.D{
				bson.E{Key: "message_id", Value: 1},
				bson.E{Key: "user_id", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
		{Keys: bson.D{bson.E{Key: "user_id", Value: 1}}},
		{Keys: bson.D{
			bson.E{Key: "user_id", Value: 1},
			bson.E{Key: "role", Value: 1},
		}},
		{Keys: bson.D{
			bson.E{Key: "user_id", Value: 1},
			bson.E{Key: "is_read", Value: 1},
		}},
	}
	_, err := s.records.Indexes().CreateMany(ctx, recordIndexes)
	return err
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// withTransaction runs fn inside a session transaction.
func (s *Store) withTransaction(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	return session.WithTransaction(ctx, fn)
}
