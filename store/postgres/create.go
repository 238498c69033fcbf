package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kmehta/courier/store"
)

// CreateMessage inserts a message together with the sender's delivery record
// in a single transaction. A record-less message is never observable.
func (s *Store) CreateMessage(ctx context.Context, data store.MessageData) (store.Message, store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, wrapTimeout(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	id := uuid.New().String()

	insertMessage := fmt.Sprintf(`
		INSERT INTO %s (id, sender_id, subject, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.opts.messagesTable)

	if _, err := tx.ExecContext(ctx, insertMessage, id, data.SenderID, data.Subject, data.Body, now); err != nil {
		return nil, nil, wrapTimeout(err, "insert message")
	}

	insertRecord := fmt.Sprintf(`
		INSERT INTO %s (message_id, user_id, role, is_read, created_at, updated_at)
		VALUES ($1, $2, $3, false, $4, $4)
	`, s.opts.recordsTable)

	if _, err := tx.ExecContext(ctx, insertRecord, id, data.SenderID, int16(store.RoleSender), now); err != nil {
		return nil, nil, wrapTimeout(err, "insert sender record")
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, wrapTimeout(err, "commit transaction")
	}

	msg := &message{
		id:        id,
		senderID:  data.SenderID,
		subject:   data.Subject,
		body:      data.Body,
		createdAt: now,
	}
	rec := &record{
		messageID: id,
		userID:    data.SenderID,
		role:      store.RoleSender,
		createdAt: now,
		updatedAt: now,
	}
	return msg, rec, nil
}

// AddRecipient attaches a recipient delivery record to an existing message.
// An existing sender record for the same user is promoted to RoleBoth; an
// existing recipient record is returned unchanged. The upsert rides on the
// (message_id, user_id) primary key, so concurrent fanouts never produce a
// duplicate row.
func (s *Store) AddRecipient(ctx context.Context, messageID, userID string) (store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()

	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, user_id, role, is_read, created_at, updated_at)
		VALUES ($1, $2, $3, false, $4, $4)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET role = CASE WHEN %s.role = $5 THEN $6 ELSE %s.role END,
		    updated_at = CASE WHEN %s.role = $5 THEN $4 ELSE %s.updated_at END
		RETURNING message_id, user_id, role, is_read, read_at, created_at, updated_at
	`, s.opts.recordsTable, s.opts.recordsTable, s.opts.recordsTable, s.opts.recordsTable, s.opts.recordsTable)

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query,
		messageID, userID, int16(store.RoleRecipient), now,
		int16(store.RoleSender), int16(store.RoleBoth),
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, wrapTimeout(err, "add recipient")
	}

	return rec, nil
}

// DeleteMessage permanently removes a message; delivery records cascade via
// the foreign key. Deleting an already-gone message is a no-op success.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.messagesTable)
	if _, err := s.db.ExecContext(ctx, query, messageID); err != nil {
		return wrapTimeout(err, "delete message")
	}

	return nil
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign key
// violation (SQLSTATE 23503), raised when inserting a record for a message
// that does not exist.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
