package memory

import (
	"context"
	"time"

	"github.com/kmehta/courier/store"
)

// SetRead sets the read flag on the caller's delivery record.
// Only recipient-role records can transition. Idempotent.
func (s *Store) SetRead(ctx context.Context, messageID, userID string, read bool) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if messageID == "" || userID == "" {
		return store.ErrInvalidID
	}

	lock := s.getMsgLock(messageID)
	lock.Lock()
	defer lock.Unlock()

	key := recordKey(messageID, userID)
	v, ok := s.records.Load(key)
	if !ok {
		return store.ErrNotFound
	}

	orig := v.(*record)
	if !orig.role.IsRecipient() {
		return store.ErrNotFound
	}
	if orig.isRead == read {
		return nil
	}

	// Copy-on-write: clone, modify, store (atomic within lock)
	r := orig.clone()
	r.isRead = read
	r.updatedAt = time.Now().UTC()
	if read {
		now := time.Now().UTC()
		r.readAt = &now
	} else {
		r.readAt = nil
	}
	s.records.Store(key, r)
	return nil
}

// DeleteRecord removes the caller's delivery record. When the last record
// goes, the message is deleted under the same lock, so two concurrent
// deletes of the last two records resolve to exactly one cascade.
func (s *Store) DeleteRecord(ctx context.Context, messageID, userID string) (store.DeleteOutcome, error) {
	if err := s.checkConnected(); err != nil {
		return store.RecordRemoved, err
	}
	if messageID == "" || userID == "" {
		return store.RecordRemoved, store.ErrInvalidID
	}

	lock := s.getMsgLock(messageID)
	lock.Lock()
	defer lock.Unlock()

	key := recordKey(messageID, userID)
	if _, ok := s.records.Load(key); !ok {
		return store.RecordRemoved, store.ErrNotFound
	}
	s.records.Delete(key)

	// Recount under the lock. No cached counter to go stale.
	if s.countRecordsLocked(messageID) == 0 {
		s.messages.Delete(messageID)
		return store.MessageFullyDeleted, nil
	}
	return store.RecordRemoved, nil
}

// CountRecords returns the number of delivery records for a message.
func (s *Store) CountRecords(ctx context.Context, messageID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if messageID == "" {
		return 0, store.ErrInvalidID
	}
	return s.countRecordsLocked(messageID), nil
}

func (s *Store) countRecordsLocked(messageID string) int64 {
	var n int64
	s.records.Range(func(_, v any) bool {
		if v.(*record).messageID == messageID {
			n++
		}
		return true
	})
	return n
}

// MarkAllRead marks every unread recipient-role record owned by the user as
// read. Implements store.BulkReadMarker.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, store.ErrInvalidID
	}

	var keys []string
	s.records.Range(func(k, v any) bool {
		r := v.(*record)
		if r.userID == userID && r.role.IsRecipient() && !r.isRead {
			keys = append(keys, k.(string))
		}
		return true
	})

	var updated int64
	for _, k := range keys {
		v, ok := s.records.Load(k)
		if !ok {
			continue
		}
		orig := v.(*record)
		lock := s.getMsgLock(orig.messageID)
		lock.Lock()
		// Re-check under the lock; the record may have changed or gone.
		if v, ok := s.records.Load(k); ok {
			cur := v.(*record)
			if cur.role.IsRecipient() && !cur.isRead {
				r := cur.clone()
				now := time.Now().UTC()
				r.isRead = true
				r.readAt = &now
				r.updatedAt = now
				s.records.Store(k, r)
				updated++
			}
		}
		lock.Unlock()
	}
	return updated, nil
}
