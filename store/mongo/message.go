package mongo

import (
	"time"

	"github.com/kmehta/courier/store"
)

// Compile-time checks
var _ store.Message = (*message)(nil)
var _ store.Record = (*record)(nil)

// messageDoc is the messages-collection document. The _id is the message
// UUID string so record documents can reference it without an extra lookup.
type messageDoc struct {
	ID        string    `bson:"_id"`
	SenderID  string    `bson:"sender_id"`
	Subject   string    `bson:"subject"`
	Body      string    `bson:"body"`
	CreatedAt time.Time `bson:"created_at"`
	// Rev is bumped inside the delete-record transaction so concurrent
	// cascade checks write-conflict and serialize.
	Rev int64 `bson:"__rev,omitempty"`
}

// recordDoc is the delivery-records-collection document. Uniqueness of
// (message_id, user_id) is enforced by an index, never by check-then-insert.
type recordDoc struct {
	MessageID string     `bson:"message_id"`
	UserID    string     `bson:"user_id"`
	Role      int32      `bson:"role"`
	IsRead    bool       `bson:"is_read"`
	ReadAt    *time.Time `bson:"read_at,omitempty"`
	CreatedAt time.Time  `bson:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

// entryDoc is the joined shape produced by the $lookup pipeline.
type entryDoc struct {
	recordDoc `bson:",inline"`
	Message   messageDoc `bson:"message"`
}

// message implements store.Message.
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

// record implements store.Record.
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
// Conversion functions
// =============================================================================

func docToMessage(doc *messageDoc) *message {
	return &message{
		id:        doc.ID,
		senderID:  doc.SenderID,
		subject:   doc.Subject,
		body:      doc.Body,
		createdAt: doc.CreatedAt,
	}
}

func docToRecord(doc *recordDoc) *record {
	return &record{
		messageID: doc.MessageID,
		userID:    doc.UserID,
		role:      store.Role(doc.Role),
		isRead:    doc.IsRead,
		readAt:    doc.ReadAt,
		createdAt: doc.CreatedAt,
		updatedAt: doc.UpdatedAt,
	}
}

func docToEntry(doc *entryDoc) store.Entry {
	return store.Entry{
		Message: docToMessage(&doc.Message),
		Record:  docToRecord(&doc.recordDoc),
	}
}
