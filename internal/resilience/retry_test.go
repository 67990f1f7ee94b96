package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "test", DefaultRetryConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "test", fastConfig(5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	persistent := errors.New("persistent error")
	attempts := 0
	err := Retry(context.Background(), "test", fastConfig(2), func() error {
		attempts++
		return persistent
	})

	if !errors.Is(err, persistent) {
		t.Errorf("Expected wrapped last error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_Permanent(t *testing.T) {
	fatal := errors.New("bad url")
	attempts := 0
	err := Retry(context.Background(), "test", fastConfig(3), func() error {
		attempts++
		return Permanent(fatal)
	})

	if err != fatal {
		t.Errorf("Expected the unwrapped permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(10)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	attempts := 0
	err := Retry(ctx, "test", cfg, func() error {
		attempts++
		cancel()
		return errors.New("down")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Expected Permanent(nil) to be nil")
	}
	if !IsPermanent(Permanent(errors.New("x"))) {
		t.Error("Expected permanent error to be detected")
	}
	if IsPermanent(errors.New("x")) {
		t.Error("Expected plain error not to be permanent")
	}
}
