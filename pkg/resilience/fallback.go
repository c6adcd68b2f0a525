// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
)

// FallbackStrategy defines a fallback behavior when the primary operation fails.
type FallbackStrategy[T any] interface {
	// Execute runs the fallback operation.
	Execute(ctx context.Context, primaryErr error) (T, error)
}

// FallbackFunc wraps a function as a FallbackStrategy.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// Execute implements FallbackStrategy.
func (f FallbackFunc[T]) Execute(ctx context.Context, err error) (T, error) {
	return f(ctx, err)
}

// WithFallback executes fn and, when it fails and shouldFallback accepts the
// error, hands over to the fallback strategy. A nil shouldFallback accepts
// every error.
func WithFallback[T any](ctx context.Context, fn func() (T, error), fallback FallbackStrategy[T], shouldFallback func(error) bool) (T, error) {
	value, err := fn()
	if err == nil {
		return value, nil
	}
	if fallback == nil || (shouldFallback != nil && !shouldFallback(err)) {
		return value, err
	}
	return fallback.Execute(ctx, err)
}
