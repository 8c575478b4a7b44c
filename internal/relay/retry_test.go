package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Millisecond,
		Multiplier:     2.0,
	}

	err := Retry(context.Background(), config, fn)
	if err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_FirstAttemptSucceeds(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return nil
	}

	if err := Retry(context.Background(), DefaultRetryConfig(), fn); err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return errors.New("persistent error")
	}

	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
	}

	err := Retry(context.Background(), config, fn)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if attempts != 4 { // Initial attempt + 3 retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetry_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return errors.New("persistent error")
	}

	config := RetryConfig{
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
	}

	err := Retry(context.Background(), config, fn)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ContextErrorNotRetried(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return context.Canceled
	}

	err := Retry(context.Background(), DefaultRetryConfig(), fn)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_AbortsDuringBackoff(t *testing.T) {
	fn := func(ctx context.Context) error {
		return errors.New("error")
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Retry(ctx, config, fn)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Retry() took %v, should abort without waiting out the backoff", elapsed)
	}
}

func TestRetry_BackoffGrows(t *testing.T) {
	var attempts []time.Time
	fn := func(ctx context.Context) error {
		attempts = append(attempts, time.Now())
		return errors.New("error")
	}

	config := RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}

	Retry(context.Background(), config, fn)

	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}

	first := attempts[1].Sub(attempts[0])
	second := attempts[2].Sub(attempts[1])
	if first < 15*time.Millisecond {
		t.Errorf("first backoff = %v, want at least ~20ms", first)
	}
	if second < first {
		t.Errorf("second backoff %v shorter than first %v", second, first)
	}
}

func TestAddJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := addJitter(base)
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("addJitter(%v) = %v, outside the 10%% band", base, d)
		}
	}
}
