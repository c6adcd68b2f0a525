// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/reactloop/pkg/errors"
)

// ErrorMetrics tracks error rates and recovery patterns by code.
type ErrorMetrics struct {
	// errorCounter tracks total errors by code and component
	errorCounter metric.Int64Counter

	// recoveryCounter tracks errors absorbed into observations
	recoveryCounter metric.Int64Counter
}

// NewErrorMetrics creates a new error metrics tracker with OTEL meters.
func NewErrorMetrics(ctx context.Context) (*ErrorMetrics, error) {
	meter := otel.Meter("reactloop/errors")

	errorCounter, err := meter.Int64Counter(
		"reactloop.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"reactloop.errors.recovered",
		metric.WithDescription("Errors recovered locally by code"),
	)
	if err != nil {
		return nil, err
	}

	return &ErrorMetrics{
		errorCounter:    errorCounter,
		recoveryCounter: recoveryCounter,
	}, nil
}

// RecordErrorMetric increments the error counter for the given error code and component.
func (em *ErrorMetrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	code, recoverable := "UNKNOWN", "unknown"
	var e *errors.Error
	if errors.As(err, &e) {
		code = string(e.Code)
		recoverable = e.RecoverableString()
	}
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", code),
			attribute.String("component", component),
			attribute.String("recoverable", recoverable),
		),
	)
}

// RecordRecovery increments the recovery counter for the given error code.
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, errorCode errors.ErrorCode) {
	if em == nil {
		return
	}
	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(errorCode)),
		),
	)
}

// RunMetrics counts loop and planner activity.
type RunMetrics struct {
	runs        metric.Int64Counter
	iterations  metric.Int64Counter
	actions     metric.Int64Counter
	corrections metric.Int64Counter
	nodes       metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewRunMetrics creates the run instruments on the global meter provider.
func NewRunMetrics() (*RunMetrics, error) {
	meter := otel.Meter("reactloop/engine")

	runs, err := meter.Int64Counter("reactloop.runs.total",
		metric.WithDescription("Finished runs by mode and status"))
	if err != nil {
		return nil, err
	}
	iterations, err := meter.Int64Counter("reactloop.loop.iterations",
		metric.WithDescription("Loop iterations started"))
	if err != nil {
		return nil, err
	}
	actions, err := meter.Int64Counter("reactloop.actions.invoked",
		metric.WithDescription("Action invocations by name and outcome"))
	if err != nil {
		return nil, err
	}
	corrections, err := meter.Int64Counter("reactloop.loop.corrections",
		metric.WithDescription("Corrective observations by kind"))
	if err != nil {
		return nil, err
	}
	nodes, err := meter.Int64Counter("reactloop.plan.nodes",
		metric.WithDescription("Plan nodes settled by status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("reactloop.run.duration",
		metric.WithDescription("Run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &RunMetrics{
		runs:        runs,
		iterations:  iterations,
		actions:     actions,
		corrections: corrections,
		nodes:       nodes,
		duration:    duration,
	}, nil
}

// RecordRun records a finished run.
func (m *RunMetrics) RecordRun(ctx context.Context, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

// RecordIteration records a loop iteration.
func (m *RunMetrics) RecordIteration(ctx context.Context) {
	if m == nil {
		return
	}
	m.iterations.Add(ctx, 1)
}

// RecordAction records an action invocation.
func (m *RunMetrics) RecordAction(ctx context.Context, name string, success, cached bool) {
	if m == nil {
		return
	}
	m.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", name),
		attribute.Bool("success", success),
		attribute.Bool("cached", cached),
	))
}

// RecordCorrection records a corrective observation.
func (m *RunMetrics) RecordCorrection(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordNode records a settled plan node.
func (m *RunMetrics) RecordNode(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.nodes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
