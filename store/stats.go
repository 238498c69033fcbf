package store

import (
	"context"
)

// LedgerStats holds aggregate counts for a user's delivery ledger.
type LedgerStats struct {
	// TotalMessages is the number of entries visible to the user.
	TotalMessages int64
	// Sent is the number of entries where the user acted as sender.
	Sent int64
	// Received is the number of entries where the user is a recipient.
	Received int64
	// Unread is the number of unread received entries.
	Unread int64
}

// Clone returns a copy of the stats.
func (s *LedgerStats) Clone() *LedgerStats {
	c := *s
	return &c
}

// StatsStore provides aggregate ledger statistics.
type StatsStore interface {
	// LedgerStats returns aggregate counts for a user's ledger.
	// This should be implemented as a single efficient query (e.g., MongoDB
	// $facet, PostgreSQL conditional aggregation) rather than multiple
	// round-trips.
	LedgerStats(ctx context.Context, userID string) (*LedgerStats, error)
}
