package cached

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// countingBackend is an in-memory avatar.Store that counts Load calls.
type countingBackend struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	nextID int
	loads  int
}

func newCountingBackend() *countingBackend {
	return &countingBackend{blobs: make(map[string][]byte)}
}

func (b *countingBackend) Upload(_ context.Context, filename, _ string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	uri := fmt.Sprintf("mem://%d/%s", b.nextID, filename)
	b.blobs[uri] = data
	return uri, nil
}

func (b *countingBackend) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	data, ok := b.blobs[uri]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *countingBackend) Delete(_ context.Context, uri string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, uri)
	return nil
}

func (b *countingBackend) loadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

func readAndClose(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	return string(data)
}

func TestCachedLoad(t *testing.T) {
	ctx := context.Background()
	backend := newCountingBackend()
	s, err := New(backend, WithCacheDir(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	uri, err := s.Upload(ctx, "me.png", "image/png", strings.NewReader("avatar bytes"))
	if err != nil {
		t.Fatalf("failed to upload: %v", err)
	}

	// First load misses and populates the cache.
	r, err := s.Load(ctx, uri)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if got := readAndClose(t, r); got != "avatar bytes" {
		t.Errorf("content = %q", got)
	}
	if backend.loadCount() != 1 {
		t.Fatalf("backend loads = %d, want 1", backend.loadCount())
	}

	// Second load is served from cache.
	r, err = s.Load(ctx, uri)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if got := readAndClose(t, r); got != "avatar bytes" {
		t.Errorf("cached content = %q", got)
	}
	if backend.loadCount() != 1 {
		t.Errorf("backend loads = %d, want 1 (second load should hit cache)", backend.loadCount())
	}
}

func TestCachedDelete(t *testing.T) {
	ctx := context.Background()
	backend := newCountingBackend()
	s, err := New(backend, WithCacheDir(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	uri, err := s.Upload(ctx, "me.png", "image/png", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("failed to upload: %v", err)
	}
	r, err := s.Load(ctx, uri)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	readAndClose(t, r)

	if err := s.Delete(ctx, uri); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	// The cache entry went with the blob, so a reload fails at the backend.
	if _, err := s.Load(ctx, uri); err == nil {
		t.Error("load after delete should fail")
	}
}

func TestCacheFull(t *testing.T) {
	ctx := context.Background()
	backend := newCountingBackend()
	s, err := New(backend, WithCacheDir(t.TempDir()), WithMaxSize(4))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	uri, err := s.Upload(ctx, "big.png", "image/png", strings.NewReader("more than four bytes"))
	if err != nil {
		t.Fatalf("failed to upload: %v", err)
	}

	// Loads still succeed; the entry just never enters the cache.
	for i := 0; i < 2; i++ {
		r, err := s.Load(ctx, uri)
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}
		if got := readAndClose(t, r); got != "more than four bytes" {
			t.Errorf("content = %q", got)
		}
	}
	if backend.loadCount() != 2 {
		t.Errorf("backend loads = %d, want 2 (oversized entry must not cache)", backend.loadCount())
	}
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	backend := newCountingBackend()
	s, err := New(backend, WithCacheDir(t.TempDir()), WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	uri, err := s.Upload(ctx, "me.png", "image/png", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("failed to upload: %v", err)
	}
	r, err := s.Load(ctx, uri)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	readAndClose(t, r)

	if err := s.ClearCache(); err != nil {
		t.Fatalf("failed to clear cache: %v", err)
	}

	// Next load goes back to the backend.
	r, err = s.Load(ctx, uri)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	readAndClose(t, r)
	if backend.loadCount() != 2 {
		t.Errorf("backend loads = %d, want 2", backend.loadCount())
	}
}
