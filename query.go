package courier

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kmehta/courier/store"
)

// ListFilter selects which slice of the viewer's ledger to list.
type ListFilter int

const (
	// All lists every message the viewer can see - sent and received.
	// A self-addressed message appears once, not twice.
	All ListFilter = iota
	// Sent lists messages the viewer sent, including self-addressed ones.
	Sent
	// Received lists messages delivered to the viewer, including
	// self-addressed ones.
	Received
	// ReceivedUnread lists received messages not yet marked read.
	ReceivedUnread
	// ReceivedRead lists received messages already marked read.
	ReceivedRead
)

// String returns the filter name for logs and metrics.
func (f ListFilter) String() string {
	switch f {
	case All:
		return "all"
	case Sent:
		return "sent"
	case Received:
		return "received"
	case ReceivedUnread:
		return "received_unread"
	case ReceivedRead:
		return "received_read"
	default:
		return "unknown"
	}
}

// filters translates the list filter into store filters scoped to the viewer.
// Every branch includes the viewer filter, so a query can never leak another
// user's entries.
func (f ListFilter) filters(viewerID string) []store.Filter {
	base := []store.Filter{store.ViewerIs(viewerID)}
	switch f {
	case Sent:
		return append(base, store.SentBy())
	case Received:
		return append(base, store.ReceivedBy())
	case ReceivedUnread:
		return append(base, store.ReceivedBy(), store.IsReadFilter(false))
	case ReceivedRead:
		return append(base, store.ReceivedBy(), store.IsReadFilter(true))
	default:
		// All: one record per (message, viewer) means the union needs no
		// message-level dedup.
		return base
	}
}

// Get retrieves a message with the caller's own delivery record.
func (c *userClient) Get(ctx context.Context, messageID string) (Message, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, fmt.Errorf("%w: empty message ID", ErrInvalidID)
	}

	// OTel tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "courier.get",
		attribute.String("user_id", c.userID),
		attribute.String("message_id", messageID),
	)
	start := time.Now()
	var getErr error
	defer func() {
		endSpan(getErr)
		c.service.otel.recordGet(ctx, time.Since(start), getErr)
	}()

	entry, storeErr := c.service.store.GetMessage(ctx, messageID, c.userID)
	if storeErr != nil {
		getErr = storeErr
		return nil, fmt.Errorf("get message: %w", storeErr)
	}

	return newMessage(entry, c), nil
}

// List returns the caller's entries matching the given filter.
func (c *userClient) List(ctx context.Context, filter ListFilter, opts store.ListOptions) (MessageList, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	// OTel tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "courier.list",
		attribute.String("user_id", c.userID),
		attribute.String("filter", filter.String()),
	)
	start := time.Now()
	var listErr error
	var resultCount int
	defer func() {
		endSpan(listErr)
		c.service.otel.recordList(ctx, time.Since(start), filter.String(), resultCount, listErr)
	}()

	storeList, err := c.listEntries(ctx, filter.filters(c.userID), opts)
	if err != nil {
		listErr = err
		return nil, err
	}
	resultCount = len(storeList.Entries)

	return wrapEntryList(storeList, c), nil
}

// Search performs substring search over subject and body within the
// caller's own ledger.
func (c *userClient) Search(ctx context.Context, query string, opts store.ListOptions) (MessageList, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	// OTel tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "courier.search",
		attribute.String("user_id", c.userID),
		attribute.String("query", query),
	)
	start := time.Now()
	var searchErr error
	var resultCount int
	defer func() {
		endSpan(searchErr)
		c.service.otel.recordSearch(ctx, time.Since(start), resultCount, searchErr)
	}()

	// Apply default query limit if not specified
	if opts.Limit == 0 {
		opts.Limit = c.service.opts.defaultQueryLimit
	}
	// Enforce maximum query limit to prevent resource exhaustion
	if opts.Limit > c.service.opts.maxQueryLimit {
		opts.Limit = c.service.opts.maxQueryLimit
	}

	storeList, err := c.service.store.Search(ctx, store.SearchQuery{
		ViewerID: c.userID,
		Query:    query,
		Fields:   []string{"subject", "body"},
		Options:  opts,
	})
	if err != nil {
		searchErr = err
		return nil, fmt.Errorf("search messages: %w", err)
	}

	resultCount = len(storeList.Entries)
	return wrapEntryList(storeList, c), nil
}

// listEntries is a shared helper for listing entries with query limit
// enforcement and optional FindWithCount optimization.
func (c *userClient) listEntries(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.EntryList, error) {
	// Apply default query limit if not specified
	if opts.Limit == 0 {
		opts.Limit = c.service.opts.defaultQueryLimit
	}
	// Enforce maximum query limit to prevent resource exhaustion
	if opts.Limit > c.service.opts.maxQueryLimit {
		opts.Limit = c.service.opts.maxQueryLimit
	}
	if opts.SortBy == "" {
		opts.SortBy = "created_at"
		opts.SortOrder = store.SortDesc
	}

	// Fast path: use combined find+count if the store supports it.
	var list *store.EntryList
	var total int64
	if fwc, ok := c.service.store.(store.FindWithCounter); ok {
		var err error
		list, total, err = fwc.FindWithCount(ctx, filters, opts)
		if err != nil {
			return nil, fmt.Errorf("find messages: %w", err)
		}
	} else {
		var err error
		list, err = c.service.store.Find(ctx, filters, opts)
		if err != nil {
			return nil, fmt.Errorf("find messages: %w", err)
		}
		total, err = c.service.store.Count(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
	}

	var nextCursor string
	if list.HasMore && len(list.Entries) > 0 {
		nextCursor = list.Entries[len(list.Entries)-1].Message.GetID()
	}

	return &store.EntryList{
		Entries:    list.Entries,
		Total:      total,
		HasMore:    list.HasMore,
		NextCursor: nextCursor,
	}, nil
}
