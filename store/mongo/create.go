package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kmehta/courier/store"
)

// CreateMessage inserts a message together with the sender's delivery record
// in a single transaction. A record-less message is never observable.
func (s *Store) CreateMessage(ctx context.Context, data store.MessageData) (store.Message, store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	msgDoc := &messageDoc{
		ID:        uuid.New().String(),
		SenderID:  data.SenderID,
		Subject:   data.Subject,
		Body:      data.Body,
		CreatedAt: now,
	}
	recDoc := &recordDoc{
		MessageID: msgDoc.ID,
		UserID:    data.SenderID,
		Role:      int32(store.RoleSender),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.withTransaction(ctx, func(ctx context.Context) (any, error) {
		if _, err := s.messages.InsertOne(ctx, msgDoc); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		if _, err := s.records.InsertOne(ctx, recDoc); err != nil {
			return nil, fmt.Errorf("insert sender record: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return docToMessage(msgDoc), docToRecord(recDoc), nil
}

// AddRecipient attaches a recipient delivery record to an existing message.
// An existing sender record for the same user is promoted to RoleBoth; an
// existing recipient record is returned unchanged. The transaction pins the
// message existence check and the upsert to the same snapshot.
func (s *Store) AddRecipient(ctx context.Context, messageID, userID string) (store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()

	result, err := s.withTransaction(ctx, func(ctx context.Context) (any, error) {
		count, err := s.messages.CountDocuments(ctx, bson.M{"_id": messageID})
		if err != nil {
			return nil, fmt.Errorf("check message: %w", err)
		}
		if count == 0 {
			return nil, store.ErrNotFound
		}

		// Promote an existing sender record to RoleBoth.
		promote := s.records.FindOneAndUpdate(ctx,
			bson.M{"message_id": messageID, "user_id": userID, "role": int32(store.RoleSender)},
			bson.M{"$set": bson.M{"role": int32(store.RoleBoth), "updated_at": now}},
			mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After),
		)
		var doc recordDoc
		err = promote.Decode(&doc)
		if err == nil {
			return &doc, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("promote sender record: %w", err)
		}

		// No sender record: upsert a recipient record. An existing recipient
		// record is returned unchanged via $setOnInsert.
		upsert := s.records.FindOneAndUpdate(ctx,
			bson.M{"message_id": messageID, "user_id": userID},
			bson.M{"$setOnInsert": bson.M{
				"role":       int32(store.RoleRecipient),
				"is_read":    false,
				"created_at": now,
				"updated_at": now,
			}},
			mongoopts.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(mongoopts.After),
		)
		if err := upsert.Decode(&doc); err != nil {
			return nil, fmt.Errorf("upsert recipient record: %w", err)
		}
		return &doc, nil
	})
	if err != nil {
		return nil, err
	}

	return docToRecord(result.(*recordDoc)), nil
}

// DeleteMessage permanently removes a message and all of its delivery
// records. Deleting an already-gone message is a no-op success.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	_, err := s.withTransaction(ctx, func(ctx context.Context) (any, error) {
		if _, err := s.messages.DeleteOne(ctx, bson.M{"_id": messageID}); err != nil {
			return nil, fmt.Errorf("delete message: %w", err)
		}
		if _, err := s.records.DeleteMany(ctx, bson.M{"message_id": messageID}); err != nil {
			return nil, fmt.Errorf("delete records: %w", err)
		}
		return nil, nil
	})
	return err
}
