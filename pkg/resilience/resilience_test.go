// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	rerrors "github.com/jllopis/reactloop/pkg/errors"
)

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithMaxAttempts(2).WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverableTypedError(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func() error {
		attempts++
		return rerrors.New(rerrors.CodeInvalidInput, "bad request", nil)
	})

	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt for non-recoverable error, got %d", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(time.Second)
	attempts := 0
	err := config.Do(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	if !rerrors.HasCode(err, rerrors.CodeCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	value, err := DoWithResult(context.Background(), DefaultRetryConfig().WithInitialDelay(time.Millisecond), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil || value != "ok" {
		t.Fatalf("expected ok, got %q (%v)", value, err)
	}
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		duration    time.Duration
		sleepTime   time.Duration
		expectError bool
	}{
		{"fast operation", time.Second, 10 * time.Millisecond, false},
		{"slow operation", 50 * time.Millisecond, 300 * time.Millisecond, true},
		{"no timeout", 0, 20 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTimeout(context.Background(), TimeoutConfig{Duration: tt.duration}, func(ctx context.Context) error {
				select {
				case <-time.After(tt.sleepTime):
				case <-ctx.Done():
				}
				return nil
			})

			if tt.expectError {
				if !rerrors.HasCode(err, rerrors.CodeTimeout) {
					t.Errorf("expected timeout error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithTimeoutResultParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeoutResult(ctx, TimeoutConfig{Duration: time.Second}, func(context.Context) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})
	if !rerrors.HasCode(err, rerrors.CodeCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestWithFallback(t *testing.T) {
	primaryErr := errors.New("primary down")
	value, err := WithFallback(context.Background(),
		func() (string, error) { return "", primaryErr },
		FallbackFunc[string](func(_ context.Context, err error) (string, error) {
			if !errors.Is(err, primaryErr) {
				t.Errorf("expected primary error to be passed to fallback")
			}
			return "fallback", nil
		}),
		nil,
	)
	if err != nil || value != "fallback" {
		t.Fatalf("expected fallback value, got %q (%v)", value, err)
	}
}

func TestWithFallbackFiltered(t *testing.T) {
	primaryErr := rerrors.New(rerrors.CodeMalformedDecision, "bad output", nil)
	_, err := WithFallback(context.Background(),
		func() (int, error) { return 0, primaryErr },
		FallbackFunc[int](func(context.Context, error) (int, error) { return 1, nil }),
		func(err error) bool { return !rerrors.HasCode(err, rerrors.CodeMalformedDecision) },
	)
	if err != primaryErr {
		t.Fatalf("expected primary error to be returned unchanged, got %v", err)
	}
}

func TestRetryOnRetryHook(t *testing.T) {
	var seen []int
	config := DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithOnRetry(func(attempt int, err error, wait time.Duration) {
		seen = append(seen, attempt)
		if wait < 0 {
			t.Errorf("negative wait %v", wait)
		}
	})
	_ = config.Do(context.Background(), func() error { return errors.New("flaky") })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected hooks for attempts 1 and 2, got %v", seen)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := backoff{next: 10 * time.Millisecond, limit: 25 * time.Millisecond, factor: 2}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}
	for i, w := range want {
		if got := b.step(); got != w {
			t.Fatalf("step %d: expected %v, got %v", i, w, got)
		}
	}
}
