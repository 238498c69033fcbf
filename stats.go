package courier

import (
	"context"
	"sync"
	"time"

	"github.com/kmehta/courier/store"
)

// Stats holds aggregate counts for a user's message ledger.
type Stats = store.LedgerStats

// statsEntry holds a cached stats snapshot for a single user.
type statsEntry struct {
	mu        sync.Mutex
	stats     *store.LedgerStats
	updatedAt time.Time
}

// getOrRefreshStats returns cached stats if within TTL, otherwise refreshes from the store.
func (s *service) getOrRefreshStats(ctx context.Context, userID string) (*store.LedgerStats, error) {
	now := time.Now()

	// Fast path: return cached entry if within TTL.
	if val, ok := s.statsCache.Load(userID); ok {
		entry := val.(*statsEntry)
		entry.mu.Lock()
		if entry.stats != nil && now.Sub(entry.updatedAt) < s.opts.statsRefreshInterval {
			clone := entry.stats.Clone()
			entry.mu.Unlock()
			return clone, nil
		}
		entry.mu.Unlock()
	}

	// Slow path: fetch from store and cache.
	stats, err := s.store.LedgerStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	entry := &statsEntry{
		stats:     stats,
		updatedAt: now,
	}
	s.statsCache.Store(userID, entry)

	return stats.Clone(), nil
}

// updateCachedStats applies a mutation to a cached stats entry if it exists.
// If no cache entry exists for the user, this is a no-op.
func (s *service) updateCachedStats(userID string, fn func(stats *store.LedgerStats)) {
	val, ok := s.statsCache.Load(userID)
	if !ok {
		return
	}
	entry := val.(*statsEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.stats != nil {
		fn(entry.stats)
	}
}

// applySentStats folds a completed send into the stats cache.
// Increments sent counts for the sender and received counts for each
// recipient. Called directly at the publish site so cached stats stay
// current regardless of the configured event transport.
func (s *service) applySentStats(data MessageSentEvent) {
	s.updateCachedStats(data.SenderID, func(stats *store.LedgerStats) {
		stats.TotalMessages++
		stats.Sent++
	})

	for _, recipientID := range data.RecipientIDs {
		if recipientID == data.SenderID {
			// Self-send shares the sender's record, already counted above.
			s.updateCachedStats(recipientID, func(stats *store.LedgerStats) {
				stats.Received++
				stats.Unread++
			})
			continue
		}
		s.updateCachedStats(recipientID, func(stats *store.LedgerStats) {
			stats.TotalMessages++
			stats.Received++
			stats.Unread++
		})
	}
}

// applyReadStats folds a read-flag change into the stats cache.
func (s *service) applyReadStats(data MessageReadEvent) {
	s.updateCachedStats(data.UserID, func(stats *store.LedgerStats) {
		if data.IsRead {
			if stats.Unread > 0 {
				stats.Unread--
			}
		} else {
			stats.Unread++
		}
	})
}

// applyBulkReadStats folds a bulk mark-read into the stats cache.
func (s *service) applyBulkReadStats(userID string, updated int64) {
	if updated == 0 {
		return
	}
	s.updateCachedStats(userID, func(stats *store.LedgerStats) {
		stats.Unread -= updated
		if stats.Unread < 0 {
			stats.Unread = 0
		}
	})
}

// applyDeletedStats folds a record deletion into the stats cache.
// Role-level counts are corrected at the next TTL refresh.
func (s *service) applyDeletedStats(data RecordDeletedEvent) {
	s.updateCachedStats(data.UserID, func(stats *store.LedgerStats) {
		if stats.TotalMessages > 0 {
			stats.TotalMessages--
		}
	})
}

// Stats returns aggregate statistics for this user's ledger.
func (c *userClient) Stats(ctx context.Context) (*Stats, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	return c.service.getOrRefreshStats(ctx, c.userID)
}
