// SPDX-License-Identifier: Apache-2.0
// Package action holds the registry of named capabilities the loop can invoke.
package action

import (
	"context"
	"time"
)

// Finish is the terminal action name. It is never registered; the loop
// controller handles it directly.
const Finish = "finish"

// Handler executes an action.
type Handler interface {
	Invoke(ctx context.Context, arg Argument) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, arg Argument) (any, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, arg Argument) (any, error) {
	return f(ctx, arg)
}

// Validator is a predicate over an action argument.
type Validator func(Argument) bool

// Definition describes a registered action.
type Definition struct {
	Name        string
	Description string
	Handler     Handler
	Validator   Validator

	// Timeout bounds a single invocation. Zero uses the registry default.
	Timeout time.Duration

	// RateLimit is the sustained invocation rate in calls per second. Zero disables limiting.
	RateLimit float64
	// Burst is the limiter bucket size; values below 1 are treated as 1.
	Burst int

	// NoCache excludes the action from the result cache.
	NoCache bool
}

// Description is the name/description pair shown to the oracle.
type Description struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Observation is the outcome of an invocation.
type Observation struct {
	Text     string
	Data     any
	IsError  bool
	Cached   bool
	Duration time.Duration
}
