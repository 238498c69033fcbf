package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kmehta/courier/store"
)

// entryColumns is the canonical SELECT column list for the message/record
// join. It must match the field order expected by scanEntry.
const entryColumns = `m.id, m.sender_id, m.subject, m.body, m.created_at,
       r.message_id, r.user_id, r.role, r.is_read, r.read_at, r.created_at, r.updated_at`

// fromClause returns the join between messages (m) and records (r).
func (s *Store) fromClause() string {
	return fmt.Sprintf(`%s m JOIN %s r ON r.message_id = m.id`, s.opts.messagesTable, s.opts.recordsTable)
}

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

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE m.id = $1 AND r.user_id = $2
	`, entryColumns, s.fromClause())

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, messageID, viewerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapTimeout(err, "get message")
	}

	return entry, nil
}

// Find retrieves entries matching the filters.
func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.EntryList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Apply defaults
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.SortBy == "" {
		opts.SortBy = "created_at"
		opts.SortOrder = store.SortDesc
	}

	where, args := s.buildWhereClause(filters)

	// Count total
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.fromClause(), where)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, wrapTimeout(err, "count entries")
	}

	// Build ORDER BY
	sortOrder := "DESC"
	if opts.SortOrder == store.SortAsc {
		sortOrder = "ASC"
	}
	sortField := s.mapSortField(opts.SortBy)

	// Cursor-based pagination: use keyset filtering when StartAfter is provided
	if opts.StartAfter != "" {
		if _, err := uuid.Parse(opts.StartAfter); err != nil {
			return nil, store.ErrInvalidID
		}
		comp := "<"
		if opts.SortOrder == store.SortAsc {
			comp = ">"
		}
		where = where + fmt.Sprintf(` AND (%s, m.id) %s (SELECT %s, c.id FROM %s c WHERE c.id = $%d)`,
			sortField, comp, strings.ReplaceAll(sortField, "m.", "c."), s.opts.messagesTable, len(args)+1)
		args = append(args, opts.StartAfter)
	}

	var query string
	if opts.StartAfter != "" {
		// Cursor-based: no OFFSET needed
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE %s
			ORDER BY %s %s
			LIMIT $%d
		`, entryColumns, s.fromClause(), where, sortField, sortOrder, len(args)+1)
		args = append(args, opts.Limit+1)
	} else {
		// Offset-based
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE %s
			ORDER BY %s %s
			LIMIT $%d OFFSET $%d
		`, entryColumns, s.fromClause(), where, sortField, sortOrder, len(args)+1, len(args)+2)
		args = append(args, opts.Limit+1, opts.Offset)
	}

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	hasMore := len(entries) > opts.Limit
	if hasMore {
		entries = entries[:opts.Limit]
	}

	var nextCursor string
	if hasMore && len(entries) > 0 {
		nextCursor = entries[len(entries)-1].Message.GetID()
	}

	return &store.EntryList{
		Entries:    entries,
		Total:      total,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}, nil
}

// Count returns the count of entries matching the filters.
func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args := s.buildWhereClause(filters)

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.fromClause(), where)
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapTimeout(err, "count")
	}

	return count, nil
}

// Search performs substring search over subject and body, scoped to the
// query's viewer.
func (s *Store) Search(ctx context.Context, query store.SearchQuery) (*store.EntryList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if query.ViewerID == "" {
		return nil, fmt.Errorf("%w: search requires a viewer", store.ErrFilterInvalid)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Apply defaults
	if query.Options.Limit <= 0 {
		query.Options.Limit = 20
	}
	fields := query.Fields
	if len(fields) == 0 {
		fields = []string{"subject", "body"}
	}

	var conditions []string
	var args []any
	argIdx := 1

	// Viewer scope comes first: a viewer only ever searches their own ledger.
	conditions = append(conditions, fmt.Sprintf("r.user_id = $%d", argIdx))
	args = append(args, query.ViewerID)
	argIdx++

	// Text search using ILIKE over the requested fields
	if query.Query != "" {
		searchPattern := "%" + escapeLike(query.Query) + "%"
		var fieldConds []string
		for _, f := range fields {
			col, ok := searchColumn(f)
			if !ok {
				continue
			}
			fieldConds = append(fieldConds, fmt.Sprintf("%s ILIKE $%d", col, argIdx))
		}
		if len(fieldConds) > 0 {
			conditions = append(conditions, "("+strings.Join(fieldConds, " OR ")+")")
			args = append(args, searchPattern)
			argIdx++
		}
	}

	// Apply additional filters
	for _, f := range query.Filters {
		cond, arg := s.filterToCondition(f, &argIdx)
		if cond != "" {
			conditions = append(conditions, cond)
			if arg != nil {
				args = append(args, arg)
			}
		}
	}

	where := strings.Join(conditions, " AND ")

	// Count (without cursor filter)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.fromClause(), where)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, wrapTimeout(err, "count search")
	}

	// Cursor-based pagination: use keyset filtering when StartAfter is provided
	if query.Options.StartAfter != "" {
		if _, err := uuid.Parse(query.Options.StartAfter); err != nil {
			return nil, store.ErrInvalidID
		}
		where = where + fmt.Sprintf(` AND (m.created_at, m.id) < (SELECT c.created_at, c.id FROM %s c WHERE c.id = $%d)`,
			s.opts.messagesTable, argIdx)
		args = append(args, query.Options.StartAfter)
		argIdx++
	}

	var sqlQuery string
	if query.Options.StartAfter != "" {
		sqlQuery = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE %s
			ORDER BY m.created_at DESC
			LIMIT $%d
		`, entryColumns, s.fromClause(), where, argIdx)
		args = append(args, query.Options.Limit+1)
	} else {
		sqlQuery = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE %s
			ORDER BY m.created_at DESC
			LIMIT $%d OFFSET $%d
		`, entryColumns, s.fromClause(), where, argIdx, argIdx+1)
		args = append(args, query.Options.Limit+1, query.Options.Offset)
	}

	entries, err := s.queryEntries(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}

	hasMore := len(entries) > query.Options.Limit
	if hasMore {
		entries = entries[:query.Options.Limit]
	}

	var nextCursor string
	if hasMore && len(entries) > 0 {
		nextCursor = entries[len(entries)-1].Message.GetID()
	}

	return &store.EntryList{
		Entries:    entries,
		Total:      total,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}, nil
}

// FindWithCount retrieves entries and total count in a single operation.
// Find already counts in the same call, so this just surfaces the total.
func (s *Store) FindWithCount(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.EntryList, int64, error) {
	list, err := s.Find(ctx, filters, opts)
	if err != nil {
		return nil, 0, err
	}
	return list, list.Total, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapTimeout(err, "query entries")
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, nil
}

func (s *Store) buildWhereClause(filters []store.Filter) (string, []any) {
	if len(filters) == 0 {
		return "1=1", nil
	}

	var conditions []string
	var args []any
	argIdx := 1

	for _, f := range filters {
		cond, arg := s.filterToCondition(f, &argIdx)
		if cond != "" {
			conditions = append(conditions, cond)
			if arg != nil {
				args = append(args, arg)
			}
		}
	}

	if len(conditions) == 0 {
		return "1=1", nil
	}

	return strings.Join(conditions, " AND "), args
}

func (s *Store) filterToCondition(f store.Filter, argIdx *int) (string, any) {
	col, ok := entryColumn(f.Key())
	if !ok {
		return "", nil
	}
	op := f.Operator()
	val := filterValue(f.Value())

	switch op {
	case "eq", "":
		cond := fmt.Sprintf("%s = $%d", col, *argIdx)
		*argIdx++
		return cond, val
	case "ne":
		cond := fmt.Sprintf("%s != $%d", col, *argIdx)
		*argIdx++
		return cond, val
	case "gt":
		cond := fmt.Sprintf("%s > $%d", col, *argIdx)
		*argIdx++
		return cond, val
	case "gte":
		cond := fmt.Sprintf("%s >= $%d", col, *argIdx)
		*argIdx++
		return cond, val
	case "lt":
		cond := fmt.Sprintf("%s < $%d", col, *argIdx)
		*argIdx++
		return cond, val
	case "lte":
		cond := fmt.Sprintf("%s <= $%d", col, *argIdx)
		*argIdx++
		return cond, val
	case "in":
		cond := fmt.Sprintf("%s = ANY($%d)", col, *argIdx)
		*argIdx++
		return cond, pq.Array(filterSlice(val))
	case "nin":
		cond := fmt.Sprintf("NOT (%s = ANY($%d))", col, *argIdx)
		*argIdx++
		return cond, pq.Array(filterSlice(val))
	case "contains":
		cond := fmt.Sprintf("%s ILIKE $%d", col, *argIdx)
		*argIdx++
		return cond, "%" + escapeLike(fmt.Sprintf("%v", val)) + "%"
	default:
		return "", nil
	}
}

// entryColumn maps a storage field key to its qualified SQL column.
func entryColumn(key string) (string, bool) {
	switch key {
	case "message_id":
		return "r.message_id", true
	case "user_id":
		return "r.user_id", true
	case "sender_id":
		return "m.sender_id", true
	case "role":
		return "r.role", true
	case "is_read":
		return "r.is_read", true
	case "subject":
		return "m.subject", true
	case "body":
		return "m.body", true
	case "created_at":
		return "m.created_at", true
	default:
		return "", false
	}
}

// searchColumn maps a search field name to its qualified SQL column.
func searchColumn(field string) (string, bool) {
	switch field {
	case "subject":
		return "m.subject", true
	case "body":
		return "m.body", true
	default:
		return "", false
	}
}

// filterValue converts Role values to their storage representation so the
// driver sees a plain integer.
func filterValue(v any) any {
	if r, ok := v.(store.Role); ok {
		return int16(r)
	}
	return v
}

// filterSlice normalizes in/nin values to a driver-friendly slice.
func filterSlice(v any) any {
	vs, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(vs))
	for i, item := range vs {
		out[i] = filterValue(item)
	}
	return out
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func (s *Store) mapSortField(field string) string {
	switch field {
	case "CreatedAt", "created_at":
		return "m.created_at"
	case "Subject", "subject":
		return "m.subject"
	default:
		return "m.created_at"
	}
}
