package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/kmehta/courier/store"
)

// defaultLimit caps unspecified page sizes.
const defaultLimit = 20

// GetMessage retrieves a message paired with the viewer's delivery record.
func (s *Store) GetMessage(ctx context.Context, messageID, viewerID string) (*store.Entry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(messageID); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rec recordDoc
	err := s.records.FindOne(ctx, bson.M{"message_id": messageID, "user_id": viewerID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find record: %w", err)
	}

	var msg messageDoc
	err = s.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}

	return &store.Entry{Message: docToMessage(&msg), Record: docToRecord(&rec)}, nil
}

// Find retrieves entries matching the filters with cursor pagination.
// The total count is computed in the same call.
func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.EntryList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	recordMatch, messageMatch, err := splitFilters(filters)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	sortPath, order := sortSpec(opts)

	total, err := s.countEntries(ctx, recordMatch, messageMatch)
	if err != nil {
		return nil, err
	}

	pipeline := s.basePipeline(recordMatch, messageMatch)

	if opts.StartAfter != "" {
		cursorMatch, ok, err := s.cursorMatch(ctx, opts.StartAfter, sortPath, order)
		if err != nil {
			return nil, err
		}
		if !ok {
			// The cursor message was deleted out from under the caller.
			return &store.EntryList{Entries: []store.Entry{}, Total: total}, nil
		}
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: cursorMatch}})
	}

	pipeline = append(pipeline, bson.D{{Key: "$sort", Value: bson.D{
		{Key: sortPath, Value: order},
		{Key: "message._id", Value: order},
	}}})
	if opts.Offset > 0 && opts.StartAfter == "" {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: opts.Offset}})
	}
	// Fetch one extra to detect whether more pages remain.
	pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit + 1}})

	entries, err := s.runEntryPipeline(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	list := &store.EntryList{Entries: entries, Total: total}
	if len(list.Entries) > limit {
		list.Entries = list.Entries[:limit]
		list.HasMore = true
		list.NextCursor = list.Entries[limit-1].Message.GetID()
	}
	return list, nil
}

// Count returns the number of entries matching the filters.
func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	recordMatch, messageMatch, err := splitFilters(filters)
	if err != nil {
		return 0, err
	}

	return s.countEntries(ctx, recordMatch, messageMatch)
}

// FindWithCount returns entries and the total count in a single call.
// Find already counts in the same call.
func (s *Store) FindWithCount(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.EntryList, int64, error) {
	list, err := s.Find(ctx, filters, opts)
	if err != nil {
		return nil, 0, err
	}
	return list, list.Total, nil
}

// Search performs substring search over a viewer's ledger.
func (s *Store) Search(ctx context.Context, query store.SearchQuery) (*store.EntryList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if query.ViewerID == "" {
		return nil, fmt.Errorf("%w: search requires a viewer", store.ErrFilterInvalid)
	}

	// The viewer scope goes first: a viewer only ever searches their own ledger.
	filters := append([]store.Filter{store.ViewerIs(query.ViewerID)}, query.Filters...)

	recordMatch, messageMatch, err := splitFilters(filters)
	if err != nil {
		return nil, err
	}

	if query.Query != "" {
		fields := query.Fields
		if len(fields) == 0 {
			fields = []string{"subject", "body"}
		}
		pattern := escapeRegex(query.Query)
		or := make(bson.A, 0, len(fields))
		for _, field := range fields {
			path, ok := searchPath(field)
			if !ok {
				return nil, fmt.Errorf("%w: unsupported search field: %s", store.ErrFilterInvalid, field)
			}
			or = append(or, bson.M{path: bson.M{"$regex": pattern, "$options": "i"}})
		}
		messageMatch = append(messageMatch, bson.E{Key: "$or", Value: or})
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := query.Options
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	sortPath, order := sortSpec(opts)

	total, err := s.countEntries(ctx, recordMatch, messageMatch)
	if err != nil {
		return nil, err
	}

	pipeline := s.basePipeline(recordMatch, messageMatch)
	if opts.StartAfter != "" {
		cursorMatch, ok, err := s.cursorMatch(ctx, opts.StartAfter, sortPath, order)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &store.EntryList{Entries: []store.Entry{}, Total: total}, nil
		}
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: cursorMatch}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$sort", Value: bson.D{
		{Key: sortPath, Value: order},
		{Key: "message._id", Value: order},
	}}})
	pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit + 1}})

	entries, err := s.runEntryPipeline(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	list := &store.EntryList{Entries: entries, Total: total}
	if len(list.Entries) > limit {
		list.Entries = list.Entries[:limit]
		list.HasMore = true
		list.NextCursor = list.Entries[limit-1].Message.GetID()
	}
	return list, nil
}

// basePipeline joins each matching delivery record to its message.
func (s *Store) basePipeline(recordMatch, messageMatch bson.D) mongo.Pipeline {
	pipeline := mongo.Pipeline{}
	if len(recordMatch) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: recordMatch}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: s.opts.messagesCollection},
			{Key: "localField", Value: "message_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "message"},
		}}},
		bson.D{{Key: "$unwind", Value: "$message"}},
	)
	if len(messageMatch) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: messageMatch}})
	}
	return pipeline
}

func (s *Store) countEntries(ctx context.Context, recordMatch, messageMatch bson.D) (int64, error) {
	// Without message-level conditions the record collection alone answers
	// the count; skip the $lookup.
	if len(messageMatch) == 0 {
		filter := recordMatch
		if filter == nil {
			filter = bson.D{}
		}
		count, err := s.records.CountDocuments(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("count entries: %w", err)
		}
		return count, nil
	}

	pipeline := s.basePipeline(recordMatch, messageMatch)
	pipeline = append(pipeline, bson.D{{Key: "$count", Value: "total"}})

	cursor, err := s.records.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (s *Store) runEntryPipeline(ctx context.Context, pipeline mongo.Pipeline) ([]store.Entry, error) {
	cursor, err := s.records.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []entryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}

	entries := make([]store.Entry, 0, len(docs))
	for i := range docs {
		entries = append(entries, docToEntry(&docs[i]))
	}
	return entries, nil
}

// cursorMatch builds the keyset condition for resuming after a message.
// Returns ok=false when the cursor message no longer exists.
func (s *Store) cursorMatch(ctx context.Context, cursorID, sortPath string, order int) (bson.M, bool, error) {
	if _, err := uuid.Parse(cursorID); err != nil {
		return nil, false, store.ErrInvalidID
	}

	var msg messageDoc
	err := s.messages.FindOne(ctx, bson.M{"_id": cursorID}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resolve cursor: %w", err)
	}

	var sortValue any
	switch sortPath {
	case "message.subject":
		sortValue = msg.Subject
	default:
		sortValue = msg.CreatedAt
	}

	cmp := "$lt"
	if order > 0 {
		cmp = "$gt"
	}
	return bson.M{"$or": bson.A{
		bson.M{sortPath: bson.M{cmp: sortValue}},
		bson.M{sortPath: sortValue, "message._id": bson.M{cmp: cursorID}},
	}}, true, nil
}

// splitFilters partitions filters into record-level conditions, applied
// before the $lookup, and message-level conditions applied after it.
func splitFilters(filters []store.Filter) (recordMatch, messageMatch bson.D, err error) {
	for _, f := range filters {
		path, onMessage, ok := fieldPath(f.Key())
		if !ok {
			return nil, nil, fmt.Errorf("%w: unsupported field: %s", store.ErrFilterInvalid, f.Key())
		}
		cond, err := filterCondition(path, f)
		if err != nil {
			return nil, nil, err
		}
		if onMessage {
			messageMatch = append(messageMatch, cond)
		} else {
			recordMatch = append(recordMatch, cond)
		}
	}
	return recordMatch, messageMatch, nil
}

func filterCondition(path string, f store.Filter) (bson.E, error) {
	value := filterValue(f.Value())
	switch f.Operator() {
	case "eq":
		return bson.E{Key: path, Value: value}, nil
	case "ne":
		return bson.E{Key: path, Value: bson.M{"$ne": value}}, nil
	case "gt":
		return bson.E{Key: path, Value: bson.M{"$gt": value}}, nil
	case "gte":
		return bson.E{Key: path, Value: bson.M{"$gte": value}}, nil
	case "lt":
		return bson.E{Key: path, Value: bson.M{"$lt": value}}, nil
	case "lte":
		return bson.E{Key: path, Value: bson.M{"$lte": value}}, nil
	case "in":
		return bson.E{Key: path, Value: bson.M{"$in": filterSlice(f.Value())}}, nil
	case "nin":
		return bson.E{Key: path, Value: bson.M{"$nin": filterSlice(f.Value())}}, nil
	case "contains":
		str, ok := value.(string)
		if !ok {
			return bson.E{}, fmt.Errorf("%w: contains requires a string value", store.ErrFilterInvalid)
		}
		return bson.E{Key: path, Value: bson.M{"$regex": escapeRegex(str), "$options": "i"}}, nil
	default:
		return bson.E{}, fmt.Errorf("%w: unsupported operator: %s", store.ErrFilterInvalid, f.Operator())
	}
}

// fieldPath maps a storage field key to its document path. Message fields
// live under the joined "message" subdocument.
func fieldPath(key string) (path string, onMessage, ok bool) {
	switch key {
	case "message_id", "user_id", "role", "is_read":
		return key, false, true
	case "sender_id", "subject", "body", "created_at":
		return "message." + key, true, true
	default:
		return "", false, false
	}
}

func searchPath(field string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "subject":
		return "message.subject", true
	case "body":
		return "message.body", true
	default:
		return "", false
	}
}

// filterValue normalizes filter values for BSON encoding.
func filterValue(v any) any {
	switch value := v.(type) {
	case store.Role:
		return int32(value)
	case time.Time:
		return value.UTC()
	default:
		return v
	}
}

func filterSlice(v any) bson.A {
	items, ok := v.([]any)
	if !ok {
		return bson.A{filterValue(v)}
	}
	out := make(bson.A, 0, len(items))
	for _, item := range items {
		out = append(out, filterValue(item))
	}
	return out
}

// sortSpec resolves the sort path and direction from list options.
func sortSpec(opts store.ListOptions) (string, int) {
	path := "message.created_at"
	switch opts.SortBy {
	case "subject", "Subject":
		path = "message.subject"
	case "created_at", "CreatedAt", "":
	}
	order := -1
	if opts.SortOrder == store.SortAsc {
		order = 1
	}
	return path, order
}
