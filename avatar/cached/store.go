// Package cached wraps an avatar store with a local file cache.
//
// Avatars are small and read far more often than they change, so a
// disk-backed read-through cache in front of the blob backend cuts most
// Load round-trips.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kmehta/courier/avatar"
)

// Store wraps an avatar.Store with local file caching.
type Store struct {
	backend  avatar.Store
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	cacheSize int64
}

var _ avatar.Store = (*Store)(nil)

// New creates a cached avatar store wrapping the given backend.
func New(backend avatar.Store, opts ...Option) (*Store, error) {
	o := &options{
		cacheDir: os.TempDir(),
		maxSize:  256 << 20,
		ttl:      time.Hour,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cacheDir := filepath.Join(o.cacheDir, "courier-avatars")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		backend:  backend,
		cacheDir: cacheDir,
		maxSize:  o.maxSize,
		ttl:      o.ttl,
		logger:   o.logger,
	}

	s.measureCache()

	if o.ttl > 0 {
		go s.cleanupLoop()
	}

	return s, nil
}

// Upload writes through to the backend; caching happens on Load.
func (s *Store) Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	return s.backend.Upload(ctx, filename, contentType, content)
}

// Load returns the avatar content, from cache when available.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	cachePath := filepath.Join(s.cacheDir, cacheKey(uri))

	if info, err := os.Stat(cachePath); err == nil {
		if time.Since(info.ModTime()) < s.ttl {
			if f, err := os.Open(cachePath); err == nil {
				s.logger.Debug("avatar cache hit", "uri", uri)
				now := time.Now()
				_ = os.Chtimes(cachePath, now, now)
				return f, nil
			}
		} else {
			os.Remove(cachePath)
			s.adjustSize(-info.Size())
		}
	}

	s.logger.Debug("avatar cache miss", "uri", uri)
	reader, err := s.backend.Load(ctx, uri)
	if err != nil {
		return nil, err
	}

	return s.teeToCache(reader, cachePath), nil
}

// Delete removes the avatar from the backend and the cache.
func (s *Store) Delete(ctx context.Context, uri string) error {
	cachePath := filepath.Join(s.cacheDir, cacheKey(uri))
	if info, err := os.Stat(cachePath); err == nil {
		os.Remove(cachePath)
		s.adjustSize(-info.Size())
	}

	return s.backend.Delete(ctx, uri)
}

// ClearCache removes all cached files.
func (s *Store) ClearCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(s.cacheDir, entry.Name()))
		}
	}
	s.cacheSize = 0
	return nil
}

// cacheKey hashes the URI so it is safe as a file name.
func cacheKey(uri string) string {
	h := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(h[:])
}

// teeToCache writes the stream into a temp file while the caller reads it;
// the temp file becomes the cache entry on a clean close. A failure to set
// up the temp file degrades to an uncached read.
func (s *Store) teeToCache(source io.ReadCloser, cachePath string) io.ReadCloser {
	tmpFile, err := os.CreateTemp(s.cacheDir, "tmp-*")
	if err != nil {
		s.logger.Warn("avatar cache temp file failed", "error", err)
		return source
	}

	return &cachingReader{
		source:    source,
		tmpFile:   tmpFile,
		cachePath: cachePath,
		store:     s,
	}
}

type cachingReader struct {
	source    io.ReadCloser
	tmpFile   *os.File
	cachePath string
	store     *Store
	size      int64
	closed    bool
}

func (r *cachingReader) Read(p []byte) (n int, err error) {
	n, err = r.source.Read(p)
	if n > 0 {
		if _, writeErr := r.tmpFile.Write(p[:n]); writeErr != nil {
			r.store.logger.Warn("avatar cache write failed", "error", writeErr)
		}
		r.size += int64(n)
	}
	return n, err
}

func (r *cachingReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	sourceErr := r.source.Close()

	if err := r.tmpFile.Close(); err != nil {
		os.Remove(r.tmpFile.Name())
		return sourceErr
	}

	if r.store.hasSpace(r.size) {
		if err := os.Rename(r.tmpFile.Name(), r.cachePath); err != nil {
			os.Remove(r.tmpFile.Name())
			r.store.logger.Warn("avatar cache install failed", "error", err)
		} else {
			r.store.adjustSize(r.size)
		}
	} else {
		os.Remove(r.tmpFile.Name())
		r.store.logger.Debug("avatar cache full, not caching", "size", r.size)
	}

	return sourceErr
}

func (s *Store) hasSpace(size int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheSize+size <= s.maxSize
}

func (s *Store) adjustSize(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheSize += delta
	if s.cacheSize < 0 {
		s.cacheSize = 0
	}
}

// measureCache sums the sizes of existing cache entries at startup.
func (s *Store) measureCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var size int64
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		s.logger.Warn("avatar cache measurement failed", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if info, err := entry.Info(); err == nil {
			size += info.Size()
		}
	}
	s.cacheSize = size
}

// cleanupLoop periodically removes expired cache entries.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for range ticker.C {
		s.evictExpired()
	}
}

func (s *Store) evictExpired() {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		s.logger.Warn("avatar cache cleanup failed", "error", err)
		return
	}

	now := time.Now()
	var removed int
	var freed int64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > s.ttl {
			if err := os.Remove(filepath.Join(s.cacheDir, entry.Name())); err == nil {
				removed++
				freed += info.Size()
			}
		}
	}

	if removed > 0 {
		s.adjustSize(-freed)
		s.logger.Debug("avatar cache cleanup", "removed", removed, "freed_bytes", freed)
	}
}
