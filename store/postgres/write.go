package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kmehta/courier/store"
)

// SetRead sets the read flag on a recipient-role record. Sender-only records
// and missing records both report ErrNotFound; setting the flag to its
// current value succeeds without error.
func (s *Store) SetRead(ctx context.Context, messageID, userID string, read bool) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()

	var query string
	var args []any
	if read {
		query = fmt.Sprintf(`
			UPDATE %s SET is_read = true,
			       read_at = COALESCE(read_at, $1),
			       updated_at = $1
			WHERE message_id = $2 AND user_id = $3 AND role IN ($4, $5)
		`, s.opts.recordsTable)
		args = []any{now, messageID, userID, int16(store.RoleRecipient), int16(store.RoleBoth)}
	} else {
		query = fmt.Sprintf(`
			UPDATE %s SET is_read = false, read_at = NULL, updated_at = $1
			WHERE message_id = $2 AND user_id = $3 AND role IN ($4, $5)
		`, s.opts.recordsTable)
		args = []any{now, messageID, userID, int16(store.RoleRecipient), int16(store.RoleBoth)}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapTimeout(err, "set read")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	return nil
}

// DeleteRecord removes the caller's delivery record. The transaction locks
// the message row first, so two concurrent deletes of the last two records
// serialize and exactly one of them observes zero remaining records and
// cascades.
func (s *Store) DeleteRecord(ctx context.Context, messageID, userID string) (store.DeleteOutcome, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return 0, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapTimeout(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock on the message serializes concurrent cascade checks.
	lockQuery := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, s.opts.messagesTable)
	var lockedID string
	if err := tx.QueryRowContext(ctx, lockQuery, messageID).Scan(&lockedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, wrapTimeout(err, "lock message")
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE message_id = $1 AND user_id = $2`, s.opts.recordsTable)
	result, err := tx.ExecContext(ctx, deleteQuery, messageID, userID)
	if err != nil {
		return 0, wrapTimeout(err, "delete record")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return 0, store.ErrNotFound
	}

	// Recount inside the transaction. No cached counter to go stale.
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE message_id = $1`, s.opts.recordsTable)
	var remaining int64
	if err := tx.QueryRowContext(ctx, countQuery, messageID).Scan(&remaining); err != nil {
		return 0, wrapTimeout(err, "count remaining records")
	}

	outcome := store.RecordRemoved
	if remaining == 0 {
		deleteMessage := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.messagesTable)
		if _, err := tx.ExecContext(ctx, deleteMessage, messageID); err != nil {
			return 0, wrapTimeout(err, "cascade delete message")
		}
		outcome = store.MessageFullyDeleted
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapTimeout(err, "commit transaction")
	}

	return outcome, nil
}

// CountRecords returns the number of delivery records for a message.
func (s *Store) CountRecords(ctx context.Context, messageID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return 0, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE message_id = $1`, s.opts.recordsTable)
	var count int64
	if err := s.db.QueryRowContext(ctx, query, messageID).Scan(&count); err != nil {
		return 0, wrapTimeout(err, "count records")
	}

	return count, nil
}

// MarkAllRead marks every unread recipient-role record owned by the user as
// read in a single statement.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE %s SET is_read = true, read_at = $1, updated_at = $1
		WHERE user_id = $2 AND role IN ($3, $4) AND is_read = false
	`, s.opts.recordsTable)

	result, err := s.db.ExecContext(ctx, query, now, userID, int16(store.RoleRecipient), int16(store.RoleBoth))
	if err != nil {
		return 0, wrapTimeout(err, "mark all read")
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return count, nil
}
