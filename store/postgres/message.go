package postgres

import (
	"database/sql"
	"time"

	"github.com/kmehta/courier/store"
)

// Compile-time checks
var _ store.Message = (*message)(nil)
var _ store.Record = (*record)(nil)

// message is the messages-table row. Immutable after insert.
type message struct {
	id        string
	senderID  string
	subject   string
	body      string
	createdAt time.Time
}

func (m *message) GetID() string           { return m.id }
func (m *message) GetSenderID() string     { return m.senderID }
func (m *message) GetSubject() string      { return m.subject }
func (m *message) GetBody() string         { return m.body }
func (m *message) GetCreatedAt() time.Time { return m.createdAt }

// record is the delivery_records-table row.
type record struct {
	messageID string
	userID    string
	role      store.Role
	isRead    bool
	readAt    *time.Time
	createdAt time.Time
	updatedAt time.Time
}

func (r *record) GetMessageID() string    { return r.messageID }
func (r *record) GetUserID() string       { return r.userID }
func (r *record) GetRole() store.Role     { return r.role }
func (r *record) GetIsRead() bool         { return r.isRead }
func (r *record) GetReadAt() *time.Time   { return r.readAt }
func (r *record) GetCreatedAt() time.Time { return r.createdAt }
func (r *record) GetUpdatedAt() time.Time { return r.updatedAt }

// =============================================================================
// Scanning helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans the record column set:
// message_id, user_id, role, is_read, read_at, created_at, updated_at.
func scanRecord(row rowScanner) (*record, error) {
	var rec record
	var role int16
	var readAt sql.NullTime

	err := row.Scan(
		&rec.messageID, &rec.userID, &role, &rec.isRead, &readAt,
		&rec.createdAt, &rec.updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.role = store.Role(role)
	if readAt.Valid {
		rec.readAt = &readAt.Time
	}

	return &rec, nil
}

// scanEntry scans the joined message+record column set produced by
// entryColumns.
func scanEntry(row rowScanner) (*store.Entry, error) {
	var msg message
	var rec record
	var role int16
	var readAt sql.NullTime

	err := row.Scan(
		&msg.id, &msg.senderID, &msg.subject, &msg.body, &msg.createdAt,
		&rec.messageID, &rec.userID, &role, &rec.isRead, &readAt,
		&rec.createdAt, &rec.updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.role = store.Role(role)
	if readAt.Valid {
		rec.readAt = &readAt.Time
	}

	return &store.Entry{Message: &msg, Record: &rec}, nil
}
