// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"github.com/kmehta/courier/store"
)

// Compile-time checks
var _ store.Store = (*Store)(nil)
var _ store.BulkReadMarker = (*Store)(nil)
var _ store.FindWithCounter = (*Store)(nil)

// Store implements store.Store using PostgreSQL. Messages and delivery
// records live in separate tables; the cascade that removes a message when
// its last record is deleted runs in a transaction holding a row lock on
// the message.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL",
		"messages_table", s.opts.messagesTable,
		"records_table", s.opts.recordsTable,
	)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	createMessages := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			sender_id VARCHAR(255) NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.opts.messagesTable)

	if _, err := s.db.ExecContext(ctx, createMessages); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	// One record per (message, user). The unique constraint carries the
	// dedup guarantee; the foreign key carries message-deletion cleanup.
	createRecords := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			message_id UUID NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			role SMALLINT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)
	`, s.opts.recordsTable, s.opts.messagesTable)

	if _, err := s.db.ExecContext(ctx, createRecords); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender ON %s(sender_id)`, s.opts.messagesTable, s.opts.messagesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at DESC)`, s.opts.messagesTable, s.opts.messagesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, s.opts.recordsTable, s.opts.recordsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_role ON %s(user_id, role)`, s.opts.recordsTable, s.opts.recordsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_unread ON %s(user_id, is_read)`, s.opts.recordsTable, s.opts.recordsTable),
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// wrapTimeout converts context deadline errors to store.ErrUnavailable so
// callers can distinguish a slow backend from a query error.
func wrapTimeout(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, store.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
