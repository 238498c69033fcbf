// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kmehta/courier/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
//
// Messages and delivery records live in separate maps. All mutations that
// touch a message's record set (fanout, read flags, deletes) serialize on a
// per-message mutex, which stands in for the row-level lock a database
// backend takes during the delete cascade.
type Store struct {
	messages  sync.Map // map[string]*message
	records   sync.Map // map[string]*record ("messageID:userID" -> record)
	msgLocks  sync.Map // map[string]*sync.Mutex (per-message locks for mutations)
	connected int32
}

// getMsgLock returns the mutex for a message ID, creating one if needed.
// Uses LoadOrStore for atomic get-or-create.
func (s *Store) getMsgLock(id string) *sync.Mutex {
	lock, _ := s.msgLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// Compile-time checks
var (
	_ store.Store          = (*Store)(nil)
	_ store.BulkReadMarker = (*Store)(nil)
)
