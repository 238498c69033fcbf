package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kmehta/courier/store"
)

// fastConfig keeps test runs short.
func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("retries transient then succeeds", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			if calls < 3 {
				return store.ErrUnavailable
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			return store.ErrUnavailable
		})
		if !errors.Is(err, ErrMaxRetries) {
			t.Errorf("expected ErrMaxRetries, got %v", err)
		}
		if !errors.Is(err, store.ErrUnavailable) {
			t.Error("cause should unwrap to store.ErrUnavailable")
		}
		if calls != 4 {
			t.Errorf("calls = %d, want 4 (1 + 3 retries)", calls)
		}

		var rerr *Error
		if !errors.As(err, &rerr) {
			t.Fatal("expected *Error")
		}
		if rerr.Attempts != 4 {
			t.Errorf("attempts = %d, want 4", rerr.Attempts)
		}
	})

	t.Run("fails fast on non-transient error", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			return store.ErrNotFound
		})
		if !errors.Is(err, ErrNotRetryable) {
			t.Errorf("expected ErrNotRetryable, got %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("zero retries executes once", func(t *testing.T) {
		cfg := fastConfig()
		cfg.MaxRetries = 0
		calls := 0
		err := Do(ctx, cfg, func(context.Context) error {
			calls++
			return store.ErrUnavailable
		})
		if !errors.Is(err, ErrMaxRetries) {
			t.Errorf("expected ErrMaxRetries, got %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Do(cctx, fastConfig(), func(context.Context) error {
			calls++
			cancel()
			return store.ErrUnavailable
		})
		if !errors.Is(err, ErrContextCanceled) {
			t.Errorf("expected ErrContextCanceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("custom IsRetryable", func(t *testing.T) {
		sentinel := errors.New("flaky")
		cfg := fastConfig()
		cfg.IsRetryable = func(err error) bool { return errors.Is(err, sentinel) }

		calls := 0
		err := Do(ctx, cfg, func(context.Context) error {
			calls++
			if calls == 1 {
				return sentinel
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})
}

func TestDoWithResult(t *testing.T) {
	ctx := context.Background()

	calls := 0
	got, err := DoWithResult(ctx, fastConfig(), func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, store.ErrTransactionFailed
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", store.ErrUnavailable, true},
		{"transaction failed", store.ErrTransactionFailed, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"not found", store.ErrNotFound, false},
		{"invalid id", store.ErrInvalidID, false},
		{"unknown error", errors.New("boom"), false},
		{"marked retryable", MarkRetryable(errors.New("boom")), true},
		{"marked not retryable", MarkNotRetryable(store.ErrUnavailable), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Transient(tc.err); got != tc.want {
				t.Errorf("Transient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestBackoffProgression(t *testing.T) {
	cfg := applyDefaults(Config{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		Multiplier:     2.0,
		Jitter:         0, // deterministic
	})

	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond, // capped
	}
	for attempt, expected := range want {
		if got := backoff(cfg, attempt); got != expected {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, expected)
		}
	}
}
