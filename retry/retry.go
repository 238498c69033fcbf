// Package retry provides exponential backoff for transient store failures.
//
// Store implementations surface transient conditions as store.ErrUnavailable
// or store.ErrTransactionFailed; callers wrap the operation in Do to retry
// those while failing fast on everything else.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kmehta/courier/store"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 3).
	// Set to 0 to execute once without retrying.
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration (default: 5s).
	MaxBackoff time.Duration

	// Multiplier increases backoff after each retry (default: 2.0).
	Multiplier float64

	// Jitter adds randomness to spread out synchronized retries
	// (default: 0.1). Value between 0 and 1.
	Jitter float64

	// IsRetryable decides whether an error is worth retrying.
	// If nil, defaults to Transient.
	IsRetryable func(error) bool
}

// DefaultConfig returns a Config tuned for store round-trips.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		IsRetryable:    Transient,
	}
}

// Sentinel errors.
var (
	// ErrNotRetryable is reported when the wrapped error should not be retried.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is reported when all retry attempts are exhausted.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled is reported when the context ends mid-retry.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Func is the operation being retried.
type Func func(ctx context.Context) error

// Do executes fn, retrying transient failures with exponential backoff.
func Do(ctx context.Context, cfg Config, fn Func) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return &Error{Cause: lastErr, Attempts: attempt, Err: ErrContextCanceled}
			}
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return &Error{Cause: err, Attempts: attempt + 1, Err: ErrNotRetryable}
		}

		// No sleep after the last attempt.
		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return &Error{Cause: lastErr, Attempts: attempt + 1, Err: ErrContextCanceled}
			case <-time.After(backoff(cfg, attempt)):
			}
		}
	}

	return &Error{Cause: lastErr, Attempts: cfg.MaxRetries + 1, Err: ErrMaxRetries}
}

// DoWithResult executes fn with retries and returns its result value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// Error reports why a retried operation gave up.
type Error struct {
	// Cause is the last error returned by the operation.
	Cause error

	// Attempts is the number of attempts made.
	Attempts int

	// Err is ErrMaxRetries, ErrNotRetryable, or ErrContextCanceled.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		spread := d * cfg.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

func applyDefaults(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = Transient
	}
	return cfg
}

// Transient reports whether an error is a transient store condition.
// Lookup misses, access errors, and validation failures never are;
// retrying them would only repeat the same answer.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRetryable) {
		return false
	}

	// Errors can carry their own verdict.
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	switch {
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrTransactionFailed):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// MarkNotRetryable wraps an error so Transient reports false for it.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{cause: err, retryable: false}
}

// MarkRetryable wraps an error so Transient reports true for it.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{cause: err, retryable: true}
}

type markedError struct {
	cause     error
	retryable bool
}

func (e *markedError) Error() string {
	return e.cause.Error()
}

func (e *markedError) Unwrap() error {
	return e.cause
}

func (e *markedError) Retryable() bool {
	return e.retryable
}
