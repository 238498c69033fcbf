package courier

import (
	"context"
	"errors"

	"github.com/kmehta/courier/store"
)

// ErrIteratorOutOfBounds is returned when Message() is called without a
// successful Next().
var ErrIteratorOutOfBounds = errors.New("courier: iterator out of bounds - call Next() first")

// MessageIterator provides streaming access to ledger entries.
// Use Next() to advance, Message() to get the current message.
//
// Use an iterator (Stream, StreamSearch) when processing large result sets
// one entry at a time - exports, migrations, notification sweeps. Use
// MessageList (List, Search) for paginated UIs with total counts and bulk
// operations.
//
// The iterator holds no resources requiring cleanup. There is no Close
// method - simply stop calling Next() when done.
//
// Not safe for concurrent use; create one iterator per goroutine.
type MessageIterator interface {
	// Next advances to the next message.
	// Returns (true, nil) when a message is available, (false, nil) when
	// iteration is done, and (false, error) when the fetch failed or the
	// service disconnected. Must be called before accessing Message().
	Next(ctx context.Context) (bool, error)

	// Message returns the current message with full mutation capabilities.
	// Returns ErrIteratorOutOfBounds if called before a successful Next().
	Message() (Message, error)
}

// StreamOptions configures streaming behavior.
type StreamOptions struct {
	// BatchSize is the number of entries fetched per batch.
	// Larger batches reduce round-trips but use more memory.
	// Default: 100
	BatchSize int
}

// batchFetchFunc fetches the next batch of entries.
type batchFetchFunc func(ctx context.Context) ([]store.Entry, error)

// batchIterator provides shared cursor-based batch fetching. StartAfter
// keyset pagination keeps iteration stable when records are deleted
// between fetches.
type batchIterator struct {
	client    *userClient
	fetch     batchFetchFunc
	setCursor func(lastID string)
	batchSize int
	batch     []store.Entry
	batchIdx  int
	done      bool
	fetched   bool
}

func (it *batchIterator) Next(ctx context.Context) (bool, error) {
	if it.done {
		return false, nil
	}

	// Verify service is still connected on each iteration.
	if err := it.client.checkAccess(); err != nil {
		it.done = true
		return false, err
	}

	if it.batchIdx >= len(it.batch) {
		// A short batch means the previous fetch drained the results.
		if it.fetched && len(it.batch) < it.batchSize {
			it.done = true
			return false, nil
		}

		entries, err := it.fetch(ctx)
		if err != nil {
			it.done = true
			return false, err
		}

		it.batch = entries
		it.batchIdx = 0
		it.fetched = true

		if len(it.batch) > 0 {
			it.setCursor(it.batch[len(it.batch)-1].Message.GetID())
		}

		if len(it.batch) == 0 {
			it.done = true
			return false, nil
		}
	}

	it.batchIdx++
	return true, nil
}

func (it *batchIterator) Message() (Message, error) {
	if it.batchIdx <= 0 || it.batchIdx > len(it.batch) {
		return nil, ErrIteratorOutOfBounds
	}
	return newMessage(&it.batch[it.batchIdx-1], it.client), nil
}

// entryIterator implements MessageIterator for filtered ledger queries.
type entryIterator struct {
	batchIterator
	storeRef store.Store
	filters  []store.Filter
	opts     store.ListOptions
}

func newEntryIterator(c *userClient, filters []store.Filter, streamOpts StreamOptions) *entryIterator {
	batchSize := streamOpts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	it := &entryIterator{
		storeRef: c.service.store,
		filters:  filters,
		opts: store.ListOptions{
			Limit:     batchSize,
			SortBy:    "created_at",
			SortOrder: store.SortDesc,
		},
	}
	it.client = c
	it.batchSize = batchSize
	it.fetch = func(ctx context.Context) ([]store.Entry, error) {
		list, err := it.storeRef.Find(ctx, it.filters, it.opts)
		if err != nil {
			return nil, err
		}
		return list.Entries, nil
	}
	it.setCursor = func(lastID string) {
		it.opts.StartAfter = lastID
	}
	return it
}

// Stream returns an iterator over the caller's ledger entries matching the
// given filter, newest first.
func (c *userClient) Stream(ctx context.Context, filter ListFilter, opts StreamOptions) (MessageIterator, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	return newEntryIterator(c, filter.filters(c.userID), opts), nil
}

// searchIterator implements MessageIterator for search queries.
type searchIterator struct {
	batchIterator
	storeRef store.Store
	query    store.SearchQuery
}

// StreamSearch returns an iterator over search results within the caller's
// ledger.
func (c *userClient) StreamSearch(ctx context.Context, query string, opts StreamOptions) (MessageIterator, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	it := &searchIterator{
		storeRef: c.service.store,
		query: store.SearchQuery{
			ViewerID: c.userID,
			Query:    query,
			Options: store.ListOptions{
				Limit:     batchSize,
				SortBy:    "created_at",
				SortOrder: store.SortDesc,
			},
		},
	}
	it.client = c
	it.batchSize = batchSize
	it.fetch = func(ctx context.Context) ([]store.Entry, error) {
		list, err := it.storeRef.Search(ctx, it.query)
		if err != nil {
			return nil, err
		}
		return list.Entries, nil
	}
	it.setCursor = func(lastID string) {
		it.query.Options.StartAfter = lastID
	}
	return it, nil
}
