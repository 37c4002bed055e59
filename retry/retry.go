// Package retry provides exponential backoff retry logic for transient
// storage failures, such as a busy SQLite writer.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 3).
	// Set to 0 for no retries (execute once).
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration (default: 5s).
	MaxBackoff time.Duration

	// Multiplier increases backoff after each retry (default: 2.0).
	Multiplier float64

	// Jitter adds randomness to prevent synchronized retries (default: 0.1).
	// Value between 0 and 1 where 0 means no jitter and 1 means +/- 100%.
	Jitter float64

	// IsRetryable determines if an error should be retried.
	// If nil, every non-nil error is retried.
	IsRetryable func(error) bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// Sentinel errors.
var (
	// ErrNotRetryable marks errors the retry loop gave up on immediately.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is returned when all retry attempts are exhausted.
	ErrMaxRetries = errors.New("retry: max retries exceeded")
)

// Do executes fn with retries according to cfg.
// Returns the last error if all retries fail.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return &Error{Cause: lastErr, Attempts: attempt, Err: err}
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.IsRetryable != nil && !cfg.IsRetryable(err) {
			return &Error{Cause: err, Attempts: attempt + 1, Err: ErrNotRetryable}
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return &Error{Cause: lastErr, Attempts: attempt + 1, Err: ctx.Err()}
			case <-time.After(backoff(cfg, attempt)):
			}
		}
	}

	return &Error{Cause: lastErr, Attempts: cfg.MaxRetries + 1, Err: ErrMaxRetries}
}

// Error reports a failed retry operation.
type Error struct {
	// Cause is the last error returned by the function.
	Cause error

	// Attempts is the number of attempts made.
	Attempts int

	// Err explains why the loop stopped (ErrMaxRetries, ErrNotRetryable,
	// or a context error).
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

// backoff computes the delay before the next attempt.
func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		jitterRange := d * cfg.Jitter
		d = d - jitterRange + (rand.Float64() * 2 * jitterRange)
	}
	return time.Duration(d)
}

// applyDefaults fills in zero values with defaults.
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
	return cfg
}
