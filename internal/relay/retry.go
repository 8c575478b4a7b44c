package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded reports that every attempt failed.
var ErrMaxRetriesExceeded = errors.New("relay: maximum retries exceeded")

// RetryConfig bounds the exponential backoff between attempts. MaxRetries
// counts attempts after the first, so zero means a single try.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultRetryConfig returns the backoff schedule used when none is
// configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// Retry runs fn until it succeeds, the retry budget is spent, or ctx ends.
// Context errors returned by fn are never retried.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Multiplier <= 1 {
		config.Multiplier = 2.0
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}

		wait := backoff
		if config.Jitter {
			wait = addJitter(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetriesExceeded, config.MaxRetries+1, lastErr)
}

// isRetryable rules out context errors; everything else gets another try.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// addJitter spreads the wait by up to 20% either way so retries against a
// stalled sink do not land in lockstep.
func addJitter(d time.Duration) time.Duration {
	jitter := float64(d) * 0.2
	return time.Duration(float64(d) + (rand.Float64()-0.5)*jitter)
}
