package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kmehta/courier/store"
)

// CreateMessage creates a message together with the sender's delivery record.
// Both are stored under the per-message lock so no reader can observe the
// message without a record.
func (s *Store) CreateMessage(ctx context.Context, data store.MessageData) (store.Message, store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, nil, err
	}
	if data.SenderID == "" {
		return nil, nil, store.ErrInvalidID
	}

	now := time.Now().UTC()
	m := &message{
		id:        uuid.New().String(),
		senderID:  data.SenderID,
		subject:   data.Subject,
		body:      data.Body,
		createdAt: now,
	}
	r := &record{
		messageID: m.id,
		userID:    data.SenderID,
		role:      store.RoleSender,
		createdAt: now,
		updatedAt: now,
	}

	lock := s.getMsgLock(m.id)
	lock.Lock()
	s.messages.Store(m.id, m)
	s.records.Store(recordKey(m.id, data.SenderID), r)
	lock.Unlock()

	return m.clone(), r.clone(), nil
}

// AddRecipient attaches a recipient delivery record to an existing message.
// A sender record for the same user is promoted to RoleBoth; an existing
// recipient record makes the call a no-op.
func (s *Store) AddRecipient(ctx context.Context, messageID, userID string) (store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if messageID == "" || userID == "" {
		return nil, store.ErrInvalidID
	}

	lock := s.getMsgLock(messageID)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := s.messages.Load(messageID); !ok {
		return nil, store.ErrNotFound
	}

	key := recordKey(messageID, userID)
	now := time.Now().UTC()

	if v, ok := s.records.Load(key); ok {
		orig := v.(*record)
		if orig.role.IsRecipient() {
			return orig.clone(), nil
		}
		// Sender adding themselves as recipient: promote.
		r := orig.clone()
		r.role = store.RoleBoth
		r.updatedAt = now
		s.records.Store(key, r)
		return r.clone(), nil
	}

	r := &record{
		messageID: messageID,
		userID:    userID,
		role:      store.RoleRecipient,
		createdAt: now,
		updatedAt: now,
	}
	s.records.Store(key, r)
	return r.clone(), nil
}

// DeleteMessage permanently removes a message and all of its delivery
// records. Deleting an already-gone message is a no-op success.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if messageID == "" {
		return store.ErrInvalidID
	}

	lock := s.getMsgLock(messageID)
	lock.Lock()
	defer lock.Unlock()

	s.messages.Delete(messageID)
	s.deleteRecordsLocked(messageID)
	return nil
}

// deleteRecordsLocked removes every record for a message.
// Caller must hold the message lock.
func (s *Store) deleteRecordsLocked(messageID string) {
	var keys []string
	s.records.Range(func(k, v any) bool {
		if v.(*record).messageID == messageID {
			keys = append(keys, k.(string))
		}
		return true
	})
	for _, k := range keys {
		s.records.Delete(k)
	}
}
