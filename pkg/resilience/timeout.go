// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry, timeout and fallback helpers used around
// oracle calls and action invocations.
package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/reactloop/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation. Zero disables the bound.
	Duration time.Duration
}

// WithTimeout executes fn with a timeout boundary.
// Returns errors.CodeTimeout if the deadline is exceeded and errors.CodeCancelled
// if the parent context is cancelled first. fn keeps running in the background
// after a timeout; it receives a context that is cancelled at that point.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) error) error {
	_, err := WithTimeoutResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithTimeoutResult executes fn with a timeout boundary, returning both result and error.
func WithTimeoutResult[T any](ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if config.Duration <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, contextError(ctx.Err(), config.Duration)
	case res := <-done:
		if res.err != nil && ctx.Err() != nil && isContextError(res.err) {
			return res.value, contextError(ctx.Err(), config.Duration)
		}
		return res.value, res.err
	}
}

// isContextError reports whether err is a bare context error that fn
// returned after observing its own deadline.
func isContextError(err error) bool {
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return false
	}
	return stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled)
}

func contextError(err error, d time.Duration) *errors.Error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", err).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	}
	return errors.New(errors.CodeCancelled, "operation cancelled", err).
		WithRecoverable(false)
}
