package store

import (
	"fmt"
)

// SortOrder represents the sort direction.
type SortOrder int

const (
	// SortAsc sorts in ascending order.
	SortAsc SortOrder = 1
	// SortDesc sorts in descending order.
	SortDesc SortOrder = -1
)

// ListOptions configures entry listing.
type ListOptions struct {
	Limit      int
	Offset     int
	SortBy     string
	SortOrder  SortOrder
	StartAfter string // cursor-based pagination
}

// SearchQuery represents a search request over a viewer's ledger.
type SearchQuery struct {
	ViewerID string      // required: user whose entries are searched
	Query    string      // text search query
	Fields   []string    // fields to search in (subject, body)
	Filters  []Filter    // additional filters
	Options  ListOptions // pagination and sorting
}

// Filter represents a query filter with a field key, comparison operator, and value.
type Filter struct {
	key      string
	value    any
	operator string
}

// Key returns the storage field key.
func (f Filter) Key() string { return f.key }

// Value returns the filter value.
func (f Filter) Value() any { return f.value }

// Operator returns the comparison operator (eq, ne, gt, gte, lt, lte, in, nin, contains).
func (f Filter) Operator() string { return f.operator }

// FilterBuilder builds filters for a specific entry field.
// Use EntryFilter() to create one, then chain a comparison method:
//
//	filter, err := store.EntryFilter("CreatedAt").GreaterThan(cutoff)
type FilterBuilder struct {
	key string
	err error
}

// validOperators is the set of supported filter operators.
var validOperators = map[string]bool{
	"eq":       true,
	"ne":       true,
	"gt":       true,
	"gte":      true,
	"lt":       true,
	"lte":      true,
	"in":       true,
	"nin":      true,
	"contains": true,
}

// NewFilter creates a filter with the given key, operator, and value.
// The key must be a valid entry field (validated via EntryFieldKey).
// The operator must be one of: eq, ne, gt, gte, lt, lte, in, nin, contains.
// Returns ErrFilterInvalid if the key or operator is invalid.
func NewFilter(key, operator string, value any) (Filter, error) {
	storageKey, ok := EntryFieldKey(key)
	if !ok {
		return Filter{}, fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, key)
	}
	if !validOperators[operator] {
		return Filter{}, fmt.Errorf("%w: unsupported operator: %s", ErrFilterInvalid, operator)
	}
	return Filter{key: storageKey, value: value, operator: operator}, nil
}

// FilterError represents an error in filter building.
type FilterError struct {
	Key string
	Err error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Key, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func (b *FilterBuilder) build(op string, v any) (Filter, error) {
	if b.err != nil {
		return Filter{}, &FilterError{Key: b.key, Err: b.err}
	}
	return Filter{key: b.key, value: v, operator: op}, nil
}

func (b *FilterBuilder) Equal(v any) (Filter, error)            { return b.build("eq", v) }
func (b *FilterBuilder) NotEqual(v any) (Filter, error)         { return b.build("ne", v) }
func (b *FilterBuilder) GreaterThan(v any) (Filter, error)      { return b.build("gt", v) }
func (b *FilterBuilder) GreaterThanEqual(v any) (Filter, error) { return b.build("gte", v) }
func (b *FilterBuilder) LessThan(v any) (Filter, error)         { return b.build("lt", v) }
func (b *FilterBuilder) LessThanEqual(v any) (Filter, error)    { return b.build("lte", v) }
func (b *FilterBuilder) In(v ...any) (Filter, error)            { return b.build("in", v) }
func (b *FilterBuilder) NotIn(v ...any) (Filter, error)         { return b.build("nin", v) }
func (b *FilterBuilder) Contains(v any) (Filter, error)         { return b.build("contains", v) }

// EntryFilter returns a filter builder for entry fields.
func EntryFilter(field string) *FilterBuilder {
	key, ok := EntryFieldKey(field)
	if !ok {
		return &FilterBuilder{key: field, err: fmt.Errorf("unsupported field: %s", field)}
	}
	return &FilterBuilder{key: key}
}

// EntryFieldKey maps field names to storage keys. Fields span both the
// message (sender_id, subject, body, created_at) and the viewer's delivery
// record (user_id, role, is_read).
func EntryFieldKey(field string) (string, bool) {
	switch field {
	case "MessageID", "message_id":
		return "message_id", true
	case "UserID", "user_id":
		return "user_id", true
	case "SenderID", "sender_id":
		return "sender_id", true
	case "Role", "role":
		return "role", true
	case "IsRead", "is_read":
		return "is_read", true
	case "Subject", "subject":
		return "subject", true
	case "Body", "body":
		return "body", true
	case "CreatedAt", "created_at":
		return "created_at", true
	default:
		return "", false
	}
}

// EntryOrderingKey returns the storage key for sorting.
func EntryOrderingKey(field string) (string, bool) {
	return EntryFieldKey(field)
}

// Convenience filter functions

// ViewerIs returns a filter for entries belonging to a specific user's ledger.
func ViewerIs(userID string) Filter {
	f, _ := EntryFilter("UserID").Equal(userID)
	return f
}

// SenderIs returns a filter for entries whose message was sent by a specific user.
func SenderIs(senderID string) Filter {
	f, _ := EntryFilter("SenderID").Equal(senderID)
	return f
}

// RoleIs returns a filter for entries with a specific role.
func RoleIs(role Role) Filter {
	f, _ := EntryFilter("Role").Equal(role)
	return f
}

// RoleIn returns a filter for entries with any of the given roles.
func RoleIn(roles ...Role) Filter {
	vs := make([]any, len(roles))
	for i, r := range roles {
		vs[i] = r
	}
	f, _ := EntryFilter("Role").In(vs...)
	return f
}

// SentBy returns a filter for entries where the viewer acted as sender,
// including self-addressed messages.
func SentBy() Filter {
	return RoleIn(RoleSender, RoleBoth)
}

// ReceivedBy returns a filter for entries where the viewer is a recipient,
// including self-addressed messages.
func ReceivedBy() Filter {
	return RoleIn(RoleRecipient, RoleBoth)
}

// IsReadFilter returns a filter for read/unread entries.
func IsReadFilter(isRead bool) Filter {
	f, _ := EntryFilter("IsRead").Equal(isRead)
	return f
}

// SubjectContains returns a filter for entries whose subject contains the substring.
func SubjectContains(s string) Filter {
	f, _ := EntryFilter("Subject").Contains(s)
	return f
}

// BodyContains returns a filter for entries whose body contains the substring.
func BodyContains(s string) Filter {
	f, _ := EntryFilter("Body").Contains(s)
	return f
}

// CreatedAfter returns a filter for entries whose message was created after t.
func CreatedAfter(t any) Filter {
	f, _ := EntryFilter("CreatedAt").GreaterThan(t)
	return f
}

// CreatedBefore returns a filter for entries whose message was created before t.
func CreatedBefore(t any) Filter {
	f, _ := EntryFilter("CreatedAt").LessThan(t)
	return f
}
