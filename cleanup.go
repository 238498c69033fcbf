package courier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kmehta/courier/store"
)

// PurgeResult contains the result of a ledger purge.
type PurgeResult struct {
	// DeletedRecords is the number of delivery records removed.
	DeletedRecords int
	// DeletedMessages is the number of messages removed because the purged
	// record was their last one.
	DeletedMessages int
	// Interrupted indicates the purge stopped early (e.g. context cancelled).
	Interrupted bool
}

// PurgeLedger removes every delivery record a user holds, typically as part
// of account deletion. Messages whose last record is purged are deleted with
// it; messages other participants still hold survive without the purged
// user's record.
//
// The purge walks the user's ledger in batches and is safe to re-run after
// an interruption: records already removed simply no longer show up.
func (s *service) PurgeLedger(ctx context.Context, userID string) (*PurgeResult, error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return nil, ErrNotConnected
	}
	if !isValidUserID(userID) {
		return nil, ErrInvalidUserID
	}

	result := &PurgeResult{}
	filters := []store.Filter{store.ViewerIs(userID)}

	const batchSize = 100
	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}

		// Always fetch the first page: each pass deletes what the previous
		// fetch returned, so a cursor would skip over live records.
		list, err := s.store.Find(ctx, filters, store.ListOptions{Limit: batchSize})
		if err != nil {
			return result, fmt.Errorf("find ledger entries: %w", err)
		}
		if len(list.Entries) == 0 {
			break
		}

		for _, entry := range list.Entries {
			if ctx.Err() != nil {
				result.Interrupted = true
				return result, ctx.Err()
			}

			outcome, err := s.store.DeleteRecord(ctx, entry.Message.GetID(), userID)
			if err != nil {
				// A concurrent delete may have beaten us to this record.
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return result, fmt.Errorf("purge record %s: %w", entry.Message.GetID(), err)
			}
			result.DeletedRecords++
			if outcome == store.MessageFullyDeleted {
				result.DeletedMessages++
			}
		}

		if !list.HasMore {
			break
		}
	}

	if result.DeletedRecords > 0 {
		s.logger.Info("purged user ledger",
			"user_id", userID,
			"records", result.DeletedRecords,
			"messages", result.DeletedMessages)
		s.statsCache.Delete(userID)
	}

	return result, nil
}
