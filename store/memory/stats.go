package memory

import (
	"context"

	"github.com/kmehta/courier/store"
)

// LedgerStats returns aggregate counts for a user's ledger in one pass
// over the record set.
func (s *Store) LedgerStats(ctx context.Context, userID string) (*store.LedgerStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	stats := &store.LedgerStats{}
	s.records.Range(func(_, v any) bool {
		r := v.(*record)
		if r.userID != userID {
			return true
		}
		stats.TotalMessages++
		if r.role.IsSender() {
			stats.Sent++
		}
		if r.role.IsRecipient() {
			stats.Received++
			if !r.isRead {
				stats.Unread++
			}
		}
		return true
	})
	return stats, nil
}
