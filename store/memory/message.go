package memory

import (
	"time"

	"github.com/kmehta/courier/store"
)

// message is the internal representation of a shared message.
type message struct {
	id        string
	senderID  string
	subject   string
	body      string
	createdAt time.Time
}

// clone creates a copy of the message.
func (m *message) clone() *message {
	c := *m
	return &c
}

// Message getters (implements store.Message)
func (m *message) GetID() string           { return m.id }
func (m *message) GetSenderID() string     { return m.senderID }
func (m *message) GetSubject() string      { return m.subject }
func (m *message) GetBody() string         { return m.body }
func (m *message) GetCreatedAt() time.Time { return m.createdAt }

// record is the internal representation of a delivery record.
type record struct {
	messageID string
	userID    string
	role      store.Role
	isRead    bool
	readAt    *time.Time
	createdAt time.Time
	updatedAt time.Time
}

// clone creates a deep copy of the record.
func (r *record) clone() *record {
	c := *r
	if r.readAt != nil {
		t := *r.readAt
		c.readAt = &t
	}
	return &c
}

// Record getters (implements store.Record)
func (r *record) GetMessageID() string    { return r.messageID }
func (r *record) GetUserID() string       { return r.userID }
func (r *record) GetRole() store.Role     { return r.role }
func (r *record) GetIsRead() bool         { return r.isRead }
func (r *record) GetReadAt() *time.Time   { return r.readAt }
func (r *record) GetCreatedAt() time.Time { return r.createdAt }
func (r *record) GetUpdatedAt() time.Time { return r.updatedAt }

// recordKey builds the composite key for the records map.
func recordKey(messageID, userID string) string {
	return messageID + ":" + userID
}

// Compile-time checks
var _ store.Message = (*message)(nil)
var _ store.Record = (*record)(nil)
