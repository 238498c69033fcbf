package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kmehta/courier/store"
)

// SetRead sets the read flag on a recipient-role record. Sender-only records
// and missing records both report ErrNotFound; setting the flag to its
// current value succeeds without error.
func (s *Store) SetRead(ctx context.Context, messageID, userID string, read bool) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{
		"message_id": messageID,
		"user_id":    userID,
		"role":       bson.M{"$in": []int32{int32(store.RoleRecipient), int32(store.RoleBoth)}},
	}

	var update bson.M
	if read {
		update = bson.M{
			"$set": bson.M{"is_read": true, "updated_at": now},
			"$min": bson.M{"read_at": now},
		}
	} else {
		update = bson.M{
			"$set":   bson.M{"is_read": false, "updated_at": now},
			"$unset": bson.M{"read_at": ""},
		}
	}

	result, err := s.records.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("set read: %w", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// DeleteRecord removes the caller's delivery record. The transaction bumps
// the message's revision first, so two concurrent deletes of the last two
// records write-conflict on the message, serialize, and exactly one of them
// observes zero remaining records and cascades.
func (s *Store) DeleteRecord(ctx context.Context, messageID, userID string) (store.DeleteOutcome, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return 0, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.withTransaction(ctx, func(ctx context.Context) (any, error) {
		// Touching the message doc stands in for a row lock.
		touch, err := s.messages.UpdateOne(ctx,
			bson.M{"_id": messageID},
			bson.M{"$inc": bson.M{"__rev": 1}},
		)
		if err != nil {
			return nil, fmt.Errorf("lock message: %w", err)
		}
		if touch.MatchedCount == 0 {
			return nil, store.ErrNotFound
		}

		deleted, err := s.records.DeleteOne(ctx, bson.M{"message_id": messageID, "user_id": userID})
		if err != nil {
			return nil, fmt.Errorf("delete record: %w", err)
		}
		if deleted.DeletedCount == 0 {
			return nil, store.ErrNotFound
		}

		// Recount inside the transaction. No cached counter to go stale.
		remaining, err := s.records.CountDocuments(ctx, bson.M{"message_id": messageID})
		if err != nil {
			return nil, fmt.Errorf("count remaining records: %w", err)
		}
		if remaining == 0 {
			if _, err := s.messages.DeleteOne(ctx, bson.M{"_id": messageID}); err != nil {
				return nil, fmt.Errorf("cascade delete message: %w", err)
			}
			return store.MessageFullyDeleted, nil
		}
		return store.RecordRemoved, nil
	})
	if err != nil {
		return 0, err
	}

	return result.(store.DeleteOutcome), nil
}

// CountRecords returns the number of delivery records for a message.
func (s *Store) CountRecords(ctx context.Context, messageID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return 0, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	count, err := s.records.CountDocuments(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}

	return count, nil
}

// MarkAllRead marks every unread recipient-role record owned by the user as
// read. Each document update is atomic; no transaction is needed.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{
		"user_id": userID,
		"role":    bson.M{"$in": []int32{int32(store.RoleRecipient), int32(store.RoleBoth)}},
		"is_read": false,
	}
	update := bson.M{
		"$set": bson.M{"is_read": true, "read_at": now, "updated_at": now},
	}

	result, err := s.records.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	return result.ModifiedCount, nil
}
