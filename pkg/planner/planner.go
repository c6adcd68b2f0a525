// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/core"
	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/resilience"
	"github.com/jllopis/reactloop/pkg/telemetry"
	"github.com/jllopis/reactloop/pkg/transcript"
)

// PlanRequest is the input of an upfront planning call.
type PlanRequest struct {
	Task    core.Task
	Actions []action.Description
}

// PlanOracle produces a full dependency graph for a task in one call.
type PlanOracle interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// SynthesisRequest carries every node result to the final answer step.
type SynthesisRequest struct {
	Task       core.Task
	Plan       *Plan
	Results    []NodeResult
	Transcript transcript.View
}

// Synthesizer turns executed plan results into a final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlanTimeout bounds the planning call.
func WithPlanTimeout(d time.Duration) PlannerOption {
	return func(p *Planner) {
		p.timeout = d
	}
}

// WithPlanLogger sets the planner logger.
func WithPlanLogger(l *slog.Logger) PlannerOption {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPlanEmitter sets the semantic event sink.
func WithPlanEmitter(em core.EventEmitter) PlannerOption {
	return func(p *Planner) {
		if em != nil {
			p.emitter = em
		}
	}
}

// Planner asks an oracle for an execution plan and validates it.
type Planner struct {
	oracle  PlanOracle
	timeout time.Duration
	logger  *slog.Logger
	emitter core.EventEmitter
	tracer  trace.Tracer
}

// NewPlanner creates a planner backed by oracle.
func NewPlanner(oracle PlanOracle, opts ...PlannerOption) *Planner {
	p := &Planner{
		oracle:  oracle,
		logger:  slog.Default(),
		emitter: core.NoopEventEmitter{},
		tracer:  otel.Tracer("reactloop/planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanTask makes one oracle call and returns a validated plan. A plan that
// is not a DAG fails with MALFORMED_PLAN and is never executed.
func (p *Planner) PlanTask(ctx context.Context, task core.Task, actions []action.Description) (*Plan, error) {
	if p.oracle == nil {
		return nil, errors.New(errors.CodeInvalidInput, "planner has no oracle", nil)
	}
	ctx, span := p.tracer.Start(ctx, "Planner.Plan", trace.WithAttributes(telemetry.TaskAttributes(task.ID, task.Objective)...))
	defer span.End()

	plan, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: p.timeout},
		func(ctx context.Context) (*Plan, error) {
			return p.oracle.Plan(ctx, PlanRequest{Task: task, Actions: actions})
		})
	if err == nil && plan == nil {
		err = MalformedPlan("oracle returned no plan")
	}
	if err == nil {
		err = plan.Validate()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.WarnContext(ctx, "planner.plan.error", "task_id", task.ID, "error", err)
		return nil, err
	}

	if plan.ID == "" {
		plan.ID = "plan-" + uuid.NewString()
	}
	span.SetAttributes(telemetry.PlanAttributes(plan.ID, len(plan.Nodes), 0)...)
	runID, _ := core.RunID(ctx)
	p.emitter.Emit(ctx, core.NewEvent(core.EventPlanCreated, runID, task.ID, map[string]any{
		"plan_id": plan.ID,
		"nodes":   len(plan.Nodes),
	}))
	p.logger.InfoContext(ctx, "planner.plan.created", "task_id", task.ID, "plan_id", plan.ID, "nodes", len(plan.Nodes))
	return plan, nil
}
