package otel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kmehta/courier/avatar"
)

var errBlobMissing = errors.New("blob not found")

// fakeBackend records calls and serves blobs from memory.
type fakeBackend struct {
	blobs   map[string][]byte
	uploads int
	loads   int
	deletes int
	err     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{blobs: make(map[string][]byte)}
}

func (b *fakeBackend) Upload(_ context.Context, filename, _ string, content io.Reader) (string, error) {
	b.uploads++
	if b.err != nil {
		return "", b.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	uri := "fake://" + filename
	b.blobs[uri] = data
	return uri, nil
}

func (b *fakeBackend) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	b.loads++
	if b.err != nil {
		return nil, b.err
	}
	data, ok := b.blobs[uri]
	if !ok {
		return nil, errBlobMissing
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBackend) Delete(_ context.Context, uri string) error {
	b.deletes++
	if b.err != nil {
		return b.err
	}
	delete(b.blobs, uri)
	return nil
}

var _ avatar.Store = (*fakeBackend)(nil)

func TestInstrumentedStore(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()

	store, err := New(backend, WithServiceName("courier-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Run("upload delegates to backend", func(t *testing.T) {
		uri, err := store.Upload(ctx, "pic.png", "image/png", strings.NewReader("avatar bytes"))
		if err != nil {
			t.Fatalf("Upload: %v", err)
		}
		if uri != "fake://pic.png" {
			t.Errorf("uri = %q, want %q", uri, "fake://pic.png")
		}
		if backend.uploads != 1 {
			t.Errorf("backend uploads = %d, want 1", backend.uploads)
		}
	})

	t.Run("load streams content through wrapper", func(t *testing.T) {
		reader, err := store.Load(ctx, "fake://pic.png")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := reader.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		// Close twice is a no-op.
		if err := reader.Close(); err != nil {
			t.Errorf("second close: %v", err)
		}
		if string(data) != "avatar bytes" {
			t.Errorf("content = %q, want %q", data, "avatar bytes")
		}
	})

	t.Run("delete delegates to backend", func(t *testing.T) {
		if err := store.Delete(ctx, "fake://pic.png"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok := backend.blobs["fake://pic.png"]; ok {
			t.Error("blob still present after delete")
		}
	})

	t.Run("load error propagates", func(t *testing.T) {
		_, err := store.Load(ctx, "fake://missing")
		if !errors.Is(err, errBlobMissing) {
			t.Errorf("err = %v, want errBlobMissing", err)
		}
	})
}

func TestInstrumentedStoreDisabled(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()

	store, err := New(backend, WithDisabled())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	uri, err := store.Upload(ctx, "a.png", "image/png", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	reader, err := store.Load(ctx, uri)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Delete(ctx, uri); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestBackendErrorCounted(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.err = errors.New("backend down")

	store, err := New(backend)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := store.Upload(ctx, "a.png", "image/png", strings.NewReader("x")); err == nil {
		t.Error("Upload: expected error")
	}
	if err := store.Delete(ctx, "fake://a.png"); err == nil {
		t.Error("Delete: expected error")
	}
}
