// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jllopis/reactloop/pkg/errors"
)

// RetryConfig describes how often and how patiently a failing call is repeated.
// Oracle calls and MCP tool calls share it.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean a single call.
	MaxAttempts  int
	InitialDelay time.Duration
	// MaxDelay caps a single wait. Zero leaves it uncapped.
	MaxDelay time.Duration
	// Multiplier grows the wait between attempts; zero means 2.
	Multiplier float64
	// Jitter spreads each wait by ±Jitter of its length.
	Jitter float64
	// IsRecoverable reports whether err is worth another attempt.
	// Nil uses the error's Recoverable flag (untyped errors are retried).
	IsRecoverable func(error) bool
	// OnRetry, when set, is called before each wait with the attempt that failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig makes three attempts starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithOnRetry registers a hook observing every failed attempt that will be retried.
func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error, wait time.Duration)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do calls fn until it succeeds, returns a non-recoverable error, or the
// attempts run out. The error of the last attempt is returned as is. A
// context cancelled while waiting yields a CANCELLED error.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	attempts := max(rc.MaxAttempts, 1)
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = isRecoverableDefault
	}
	b := backoff{next: rc.InitialDelay, limit: rc.MaxDelay, factor: rc.Multiplier, jitter: rc.Jitter}

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == attempts || !recoverable(err) {
			return err
		}

		wait := b.step()
		if rc.OnRetry != nil {
			rc.OnRetry(attempt, err, wait)
		}
		if werr := sleep(ctx, wait); werr != nil {
			return errors.New(errors.CodeCancelled, "context canceled during retry", werr).
				WithContext("attempt", attempt).
				WithContext("max_attempts", attempts)
		}
	}
}

// DoWithResult is Do for calls that produce a value.
func DoWithResult[T any](ctx context.Context, rc RetryConfig, fn func() (T, error)) (T, error) {
	var out T
	err := rc.Do(ctx, func() error {
		v, err := fn()
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// backoff yields exponentially growing, jittered waits.
type backoff struct {
	next   time.Duration
	limit  time.Duration
	factor float64
	jitter float64
}

func (b *backoff) step() time.Duration {
	base := b.next
	if b.limit > 0 && base > b.limit {
		base = b.limit
	}
	factor := b.factor
	if factor <= 0 {
		factor = 2
	}
	b.next = time.Duration(float64(base) * factor)

	if b.jitter <= 0 {
		return base
	}
	spread := float64(base) * b.jitter * (2*rand.Float64() - 1)
	return max(base+time.Duration(spread), 0)
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRecoverableDefault(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.HasCode(err, errors.CodeCancelled):
		return false
	}
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return true
}
