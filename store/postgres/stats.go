package postgres

import (
	"context"
	"fmt"

	"github.com/kmehta/courier/store"
)

// LedgerStats returns aggregate statistics for a user's ledger using a
// single conditional-aggregation query, so all four counts come from the
// same snapshot.
func (s *Store) LedgerStats(ctx context.Context, userID string) (*store.LedgerStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN role IN ($2, $3) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN role IN ($4, $3) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN role IN ($4, $3) AND NOT is_read THEN 1 ELSE 0 END), 0)
		FROM %s
		WHERE user_id = $1
	`, s.opts.recordsTable)

	stats := &store.LedgerStats{}
	err := s.db.QueryRowContext(ctx, query,
		userID, int16(store.RoleSender), int16(store.RoleBoth), int16(store.RoleRecipient),
	).Scan(&stats.TotalMessages, &stats.Sent, &stats.Received, &stats.Unread)
	if err != nil {
		return nil, wrapTimeout(err, "query ledger stats")
	}

	return stats, nil
}
