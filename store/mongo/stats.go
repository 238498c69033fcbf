package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kmehta/courier/store"
)

// LedgerStats computes message counts for a user in a single aggregation
// over the user's delivery records.
func (s *Store) LedgerStats(ctx context.Context, userID string) (*store.LedgerStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	senderRoles := bson.A{int32(store.RoleSender), int32(store.RoleBoth)}
	recipientRoles := bson.A{int32(store.RoleRecipient), int32(store.RoleBoth)}

	pipeline := bson.A{
		bson.M{"$match": bson.M{"user_id": userID}},
		bson.M{"$group": bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": 1},
			"sent": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$in": bson.A{"$role", senderRoles}}, 1, 0,
			}}},
			"received": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$in": bson.A{"$role", recipientRoles}}, 1, 0,
			}}},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$in": bson.A{"$role", recipientRoles}},
					bson.M{"$eq": bson.A{"$is_read", false}},
				}}, 1, 0,
			}}},
		}},
	}

	cursor, err := s.records.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total    int64 `bson:"total"`
		Sent     int64 `bson:"sent"`
		Received int64 `bson:"received"`
		Unread   int64 `bson:"unread"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	stats := &store.LedgerStats{}
	if len(results) > 0 {
		stats.TotalMessages = results[0].Total
		stats.Sent = results[0].Sent
		stats.Received = results[0].Received
		stats.Unread = results[0].Unread
	}
	return stats, nil
}
