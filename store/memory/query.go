package memory

import (
	"context"
	"strings"
	"time"

	"github.com/kmehta/courier/store"
)

// entry pairs internal message and record pointers during query evaluation.
type entry struct {
	m *message
	r *record
}

// GetMessage retrieves a message paired with the viewer's delivery record.
func (s *Store) GetMessage(ctx context.Context, messageID, viewerID string) (*store.Entry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if messageID == "" || viewerID == "" {
		return nil, store.ErrInvalidID
	}

	v, ok := s.records.Load(recordKey(messageID, viewerID))
	if !ok {
		return nil, store.ErrNotFound
	}
	mv, ok := s.messages.Load(messageID)
	if !ok {
		return nil, store.ErrNotFound
	}

	return &store.Entry{
		Message: mv.(*message).clone(),
		Record:  v.(*record).clone(),
	}, nil
}

// Find retrieves entries matching the filters.
func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.EntryList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	all := s.collect(func(e entry) bool {
		return matchesFilters(e, filters)
	})
	return paginate(all, opts), nil
}

// Count returns the count of entries matching the filters.
func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	var count int64
	s.records.Range(func(_, v any) bool {
		r := v.(*record)
		mv, ok := s.messages.Load(r.messageID)
		if !ok {
			return true
		}
		if matchesFilters(entry{m: mv.(*message), r: r}, filters) {
			count++
		}
		return true
	})
	return count, nil
}

// Search performs substring search on subject and body, scoped to the
// query's viewer.
func (s *Store) Search(ctx context.Context, query store.SearchQuery) (*store.EntryList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if query.ViewerID == "" {
		return nil, store.ErrInvalidID
	}

	searchTerm := strings.ToLower(query.Query)
	fields := query.Fields
	if len(fields) == 0 {
		fields = []string{"subject", "body"}
	}

	all := s.collect(func(e entry) bool {
		if e.r.userID != query.ViewerID {
			return false
		}
		if !matchesFilters(e, query.Filters) {
			return false
		}
		if searchTerm == "" {
			return true
		}
		for _, f := range fields {
			switch f {
			case "subject":
				if strings.Contains(strings.ToLower(e.m.subject), searchTerm) {
					return true
				}
			case "body":
				if strings.Contains(strings.ToLower(e.m.body), searchTerm) {
					return true
				}
			}
		}
		return false
	})
	return paginate(all, query.Options), nil
}

// FindWithCount retrieves entries and total count in a single pass.
// Implements store.FindWithCounter for optimized list operations.
func (s *Store) FindWithCount(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.EntryList, int64, error) {
	list, err := s.Find(ctx, filters, opts)
	if err != nil {
		return nil, 0, err
	}
	return list, list.Total, nil
}

// collect gathers entries that satisfy the predicate.
func (s *Store) collect(match func(entry) bool) []entry {
	var all []entry
	s.records.Range(func(_, v any) bool {
		r := v.(*record)
		mv, ok := s.messages.Load(r.messageID)
		if !ok {
			// Record observed mid-cascade; its message is already gone.
			return true
		}
		e := entry{m: mv.(*message), r: r}
		if match(e) {
			all = append(all, e)
		}
		return true
	})
	return all
}

// paginate sorts and slices the entries into a result page.
func paginate(all []entry, opts store.ListOptions) *store.EntryList {
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	sortEntries(all, sortBy, opts.SortOrder)

	total := int64(len(all))

	// Cursor-based pagination using StartAfter
	start := 0
	if opts.StartAfter != "" {
		found := false
		for i, e := range all {
			if e.m.id == opts.StartAfter {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			// Cursor not found (deleted). Return empty results since the page
			// boundary is unknown. Callers should re-query without a cursor.
			return &store.EntryList{Total: total}
		}
	}

	end := start + opts.Limit
	if opts.Limit == 0 {
		end = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	result := all[start:end]
	entries := make([]store.Entry, len(result))
	for i, e := range result {
		entries[i] = store.Entry{Message: e.m.clone(), Record: e.r.clone()}
	}

	list := &store.EntryList{
		Entries: entries,
		Total:   total,
		HasMore: end < len(all),
	}
	if list.HasMore && len(entries) > 0 {
		list.NextCursor = entries[len(entries)-1].Message.GetID()
	}
	return list
}

func matchesFilters(e entry, filters []store.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(e, f) {
			return false
		}
	}
	return true
}

func matchesFilter(e entry, f store.Filter) bool {
	value := f.Value()
	op := f.Operator()

	var fieldValue any
	switch f.Key() {
	case "message_id":
		fieldValue = e.m.id
	case "user_id":
		fieldValue = e.r.userID
	case "sender_id":
		fieldValue = e.m.senderID
	case "role":
		fieldValue = e.r.role
	case "is_read":
		fieldValue = e.r.isRead
	case "subject":
		fieldValue = e.m.subject
	case "body":
		fieldValue = e.m.body
	case "created_at":
		fieldValue = e.m.createdAt
	default:
		return true // Unknown field, skip filter
	}

	switch op {
	case "eq", "=", "":
		return fieldValue == value
	case "ne", "!=":
		return fieldValue != value
	case "lt", "<":
		return compareValues(fieldValue, value) < 0
	case "lte", "<=":
		return compareValues(fieldValue, value) <= 0
	case "gt", ">":
		return compareValues(fieldValue, value) > 0
	case "gte", ">=":
		return compareValues(fieldValue, value) >= 0
	case "in":
		return valueInSet(fieldValue, value)
	case "nin":
		return !valueInSet(fieldValue, value)
	case "contains":
		fv, ok1 := fieldValue.(string)
		sub, ok2 := value.(string)
		if !ok1 || !ok2 {
			return false
		}
		return strings.Contains(strings.ToLower(fv), strings.ToLower(sub))
	default:
		return true
	}
}

// valueInSet checks if a scalar value is in a set (slice) of values.
func valueInSet(fieldValue any, set any) bool {
	switch s := set.(type) {
	case []string:
		fv, ok := fieldValue.(string)
		if !ok {
			return false
		}
		for _, v := range s {
			if v == fv {
				return true
			}
		}
	case []any:
		for _, v := range s {
			if v == fieldValue {
				return true
			}
		}
	}
	return false
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			if av < bv {
				return -1
			} else if av > bv {
				return 1
			}
			return 0
		}
	case int64:
		if bv, ok := b.(int64); ok {
			if av < bv {
				return -1
			} else if av > bv {
				return 1
			}
			return 0
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			if av.Before(bv) {
				return -1
			} else if av.After(bv) {
				return 1
			}
			return 0
		}
	}
	return 0
}

func sortEntries(entries []entry, sortBy string, order store.SortOrder) {
	if sortBy == "" {
		sortBy = "created_at"
	}
	if order == 0 {
		order = store.SortDesc
	}

	// Simple bubble sort for testing
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			shouldSwap := false
			switch sortBy {
			case "created_at":
				if order == store.SortAsc {
					shouldSwap = entries[i].m.createdAt.After(entries[j].m.createdAt)
				} else {
					shouldSwap = entries[i].m.createdAt.Before(entries[j].m.createdAt)
				}
			case "subject":
				if order == store.SortAsc {
					shouldSwap = entries[i].m.subject > entries[j].m.subject
				} else {
					shouldSwap = entries[i].m.subject < entries[j].m.subject
				}
			}
			if shouldSwap {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
}
