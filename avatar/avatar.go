// Package avatar stores user profile images in blob storage.
//
// The Store interface abstracts the blob backend; the s3 and gcs
// subpackages provide implementations. Uploader ties a Store to a
// directory so a successful upload updates the user's avatar URL.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Limits.
const (
	// DefaultMaxBytes caps avatar uploads at 5 MiB.
	DefaultMaxBytes = 5 << 20
)

// Avatar errors.
var (
	// ErrUnsupportedType is returned for non-image content types.
	ErrUnsupportedType = errors.New("avatar: unsupported content type")

	// ErrTooLarge is returned when the image exceeds the size limit.
	ErrTooLarge = errors.New("avatar: image too large")
)

// allowedTypes lists the image content types accepted for avatars.
var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Store persists avatar blobs. Upload returns an opaque URI that Load and
// Delete accept back.
type Store interface {
	// Upload stores the content and returns its URI.
	Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error)

	// Load returns a reader for the avatar content.
	// The caller must close the returned reader.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)

	// Delete removes the avatar blob.
	Delete(ctx context.Context, uri string) error
}

// URLSetter records a user's avatar location. directory.Static implements
// it; production directories persist the URL in their own user store.
type URLSetter interface {
	SetAvatarURL(ctx context.Context, userID, url string) error
}

// Uploader validates avatar uploads, stores them, and records the
// resulting URI in the directory.
type Uploader struct {
	store    Store
	dir      URLSetter
	maxBytes int64
}

// NewUploader creates an Uploader. maxBytes <= 0 selects DefaultMaxBytes.
func NewUploader(store Store, dir URLSetter, maxBytes int64) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Uploader{store: store, dir: dir, maxBytes: maxBytes}
}

// Upload validates and stores an avatar image for the user, then points the
// directory entry at it. Returns the stored URI.
func (u *Uploader) Upload(ctx context.Context, userID, filename, contentType string, content io.Reader) (string, error) {
	if !allowedTypes[contentType] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	uri, err := u.store.Upload(ctx, filename, contentType, &limitedReader{r: content, remaining: u.maxBytes})
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return "", ErrTooLarge
		}
		return "", fmt.Errorf("avatar: upload: %w", err)
	}

	if err := u.dir.SetAvatarURL(ctx, userID, uri); err != nil {
		// The directory rejected the user; don't leave an orphaned blob.
		_ = u.store.Delete(ctx, uri)
		return "", fmt.Errorf("avatar: set url: %w", err)
	}
	return uri, nil
}

// Remove deletes a user's avatar blob and clears the directory entry.
func (u *Uploader) Remove(ctx context.Context, userID, uri string) error {
	if err := u.store.Delete(ctx, uri); err != nil {
		return fmt.Errorf("avatar: delete: %w", err)
	}
	if err := u.dir.SetAvatarURL(ctx, userID, ""); err != nil {
		return fmt.Errorf("avatar: clear url: %w", err)
	}
	return nil
}

// limitedReader fails with ErrTooLarge instead of silently truncating.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
