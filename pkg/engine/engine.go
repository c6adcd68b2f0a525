// SPDX-License-Identifier: Apache-2.0
// Package engine is the caller API of the reasoning loop runtime. It runs a
// task in sequential (ReAct) or ReWOO mode and returns the answer together
// with the full transcript.
package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/core"
	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/loop"
	"github.com/jllopis/reactloop/pkg/oracle"
	"github.com/jllopis/reactloop/pkg/planner"
	"github.com/jllopis/reactloop/pkg/resilience"
	"github.com/jllopis/reactloop/pkg/telemetry"
	"github.com/jllopis/reactloop/pkg/transcript"
)

// Status is the terminal status of a run.
type Status = loop.Status

const (
	StatusCompleted     = loop.StatusCompleted
	StatusMaxIterations = loop.StatusMaxIterations
	StatusAborted       = loop.StatusAborted
)

// Abort reasons beyond the loop's own.
const (
	ReasonInvalidInput  = "invalid_input"
	ReasonMalformedPlan = "malformed_plan"
	ReasonPlanning      = "planning"
	ReasonSynthesis     = "synthesis"
)

// Result is the outcome of one run.
type Result struct {
	Answer     string
	Transcript *transcript.Transcript
	Status     Status
	// Reason explains a non-completed status.
	Reason     string
	RunID      string
	Mode       Mode
	Iterations int
	Duration   time.Duration
	// Err carries the error behind an invalid input, a malformed plan or a
	// failed synthesis.
	Err error
}

// Completed reports whether the run finished with an answer.
func (r Result) Completed() bool {
	return r.Status == StatusCompleted
}

// Option configures an Engine.
type Option func(*Engine)

// WithPlanner sets the ReWOO planning oracle.
func WithPlanner(p oracle.Planner) Option {
	return func(e *Engine) {
		e.planner = p
	}
}

// WithSynthesizer sets the ReWOO answer synthesizer.
func WithSynthesizer(s oracle.Synthesizer) Option {
	return func(e *Engine) {
		e.synthesizer = s
	}
}

// WithArchive saves every finished transcript.
func WithArchive(a transcript.Archive) Option {
	return func(e *Engine) {
		e.archive = a
	}
}

// WithAuditStore records ReWOO node events.
func WithAuditStore(s planner.AuditStore) Option {
	return func(e *Engine) {
		e.audit = s
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventEmitter sets the semantic event sink.
func WithEventEmitter(em core.EventEmitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithMetrics sets the run metrics sink.
func WithMetrics(m *telemetry.RunMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine runs tasks against an action registry and an oracle.
type Engine struct {
	actions     *action.Registry
	oracle      oracle.Oracle
	planner     oracle.Planner
	synthesizer oracle.Synthesizer
	archive     transcript.Archive
	audit       planner.AuditStore
	logger      *slog.Logger
	emitter     core.EventEmitter
	metrics     *telemetry.RunMetrics
	tracer      trace.Tracer
}

// New creates an engine. When o also implements oracle.Planner or
// oracle.Synthesizer it serves ReWOO mode too.
func New(actions *action.Registry, o oracle.Oracle, opts ...Option) *Engine {
	e := &Engine{
		actions: actions,
		oracle:  o,
		logger:  slog.Default(),
		emitter: core.NoopEventEmitter{},
		tracer:  otel.Tracer("reactloop/engine"),
	}
	if p, ok := o.(oracle.Planner); ok {
		e.planner = p
	}
	if s, ok := o.(oracle.Synthesizer); ok {
		e.synthesizer = s
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.actions == nil {
		e.actions = action.NewRegistry()
	}
	return e
}

// Run executes task with cfg. It never returns an error: failures are
// reported through Result.Status, Result.Reason and Result.Err.
func (e *Engine) Run(ctx context.Context, task core.Task, cfg Config) Result {
	start := time.Now()
	cfg = cfg.withDefaults()
	ctx, runID := core.EnsureRunID(ctx)

	ctx, span := e.tracer.Start(ctx, "Engine.Run",
		trace.WithAttributes(telemetry.RunAttributes(runID, task.ID, string(cfg.Mode))...),
	)
	defer span.End()

	var res Result
	if err := e.validate(task, cfg); err != nil {
		res = Result{Status: StatusAborted, Reason: ReasonInvalidInput, Err: err, Transcript: transcript.New()}
	} else {
		actions := e.actions.Restrict(task.AllowedActions).WithTimeout(cfg.ActionTimeout)
		e.logger.InfoContext(ctx, "engine.run.start",
			"run_id", runID,
			"task_id", task.ID,
			"mode", cfg.Mode,
			"actions", actions.Len(),
		)
		switch cfg.Mode {
		case ModeReWOO:
			res = e.runReWOO(ctx, task, cfg, actions)
		default:
			res = e.runSequential(ctx, task, cfg, actions)
		}
	}
	res.RunID = runID
	res.Mode = cfg.Mode
	res.Duration = time.Since(start)

	span.SetAttributes(telemetry.OutcomeAttributes(string(res.Status), res.Reason, res.Iterations)...)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	if !res.Completed() {
		span.SetStatus(codes.Error, string(res.Status))
	}
	e.metrics.RecordRun(ctx, string(cfg.Mode), string(res.Status), res.Duration)
	e.logger.InfoContext(ctx, "engine.run.end",
		"run_id", runID,
		"mode", cfg.Mode,
		"status", res.Status,
		"reason", res.Reason,
		"iterations", res.Iterations,
		"steps", res.Transcript.Len(),
		"duration_ms", res.Duration.Milliseconds(),
	)
	e.save(ctx, task, res, start)
	return res
}

func (e *Engine) validate(task core.Task, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if task.Objective == "" {
		return errors.New(errors.CodeInvalidInput, "task objective is empty", nil)
	}
	if e.oracle == nil && cfg.Mode == ModeSequential {
		return errors.New(errors.CodeInvalidInput, "sequential mode needs an oracle", nil)
	}
	if cfg.Mode == ModeReWOO && (e.planner == nil || e.synthesizer == nil) {
		return errors.New(errors.CodeInvalidInput, "rewoo mode needs a planner and a synthesizer", nil)
	}
	return nil
}

func (e *Engine) runSequential(ctx context.Context, task core.Task, cfg Config, actions *action.Registry) Result {
	ctrl := loop.New(e.oracle, actions, loop.Config{
		MaxIterations:       cfg.MaxIterations,
		RepetitionTolerance: cfg.RepetitionTolerance,
		TranscriptWindow:    cfg.TranscriptWindow,
		OracleTimeout:       cfg.OracleTimeout,
	},
		loop.WithLogger(e.logger),
		loop.WithEventEmitter(e.emitter),
		loop.WithMetrics(e.metrics),
	)
	out := ctrl.Run(ctx, task)
	return Result{
		Answer:     out.Answer,
		Transcript: out.Transcript,
		Status:     out.Status,
		Reason:     out.Reason,
		Iterations: out.Iterations,
	}
}

// runReWOO plans once, executes the plan with bounded parallelism and
// synthesizes the answer from every node result.
func (e *Engine) runReWOO(ctx context.Context, task core.Task, cfg Config, actions *action.Registry) Result {
	runID, _ := core.RunID(ctx)
	e.emitter.Emit(ctx, core.NewEvent(core.EventRunStarted, runID, task.ID, map[string]any{"mode": string(ModeReWOO)}))

	p := planner.NewPlanner(e.planner,
		planner.WithPlanTimeout(cfg.OracleTimeout),
		planner.WithPlanLogger(e.logger),
		planner.WithPlanEmitter(e.emitter),
	)
	plan, err := p.PlanTask(ctx, task, actions.Descriptions())
	if err != nil {
		reason := ReasonPlanning
		switch {
		case ctx.Err() != nil:
			reason = loop.ReasonCancelled
		case errors.HasCode(err, errors.CodeMalformedPlan):
			reason = ReasonMalformedPlan
		}
		return e.aborted(ctx, task, transcript.New(), reason, err, 0)
	}

	opts := []planner.ExecutorOption{
		planner.WithConcurrencyLimit(cfg.ConcurrencyLimit),
		planner.WithEventEmitter(e.emitter),
		planner.WithLogger(e.logger),
		planner.WithMetrics(e.metrics),
	}
	if e.audit != nil {
		opts = append(opts, planner.WithAuditStore(e.audit))
	}
	out, err := planner.NewExecutor(actions, opts...).Execute(ctx, plan)
	if err != nil {
		return e.aborted(ctx, task, transcript.New(), ReasonMalformedPlan, err, 0)
	}
	tr := out.Transcript()
	dispatched := len(plan.Nodes) - out.Count(planner.StatusSkipped)
	if out.Cancelled {
		return e.aborted(ctx, task, tr, loop.ReasonCancelled, nil, dispatched)
	}

	answer, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: cfg.OracleTimeout},
		func(ctx context.Context) (string, error) {
			return e.synthesizer.Synthesize(ctx, planner.SynthesisRequest{
				Task:       task,
				Plan:       plan,
				Results:    out.Ordered(),
				Transcript: tr.View(cfg.TranscriptWindow),
			})
		})
	if err != nil {
		reason := ReasonSynthesis
		if ctx.Err() != nil {
			reason = loop.ReasonCancelled
		}
		return e.aborted(ctx, task, tr, reason, err, dispatched)
	}

	tr.Append(transcript.Step{
		Action:   action.Finish,
		Argument: action.Text(answer),
		Kind:     transcript.KindFinal,
	})
	e.emitter.Emit(ctx, core.NewEvent(core.EventRunCompleted, runID, task.ID, map[string]any{
		"plan_id":   plan.ID,
		"completed": out.Count(planner.StatusCompleted),
		"failed":    out.Count(planner.StatusFailed),
		"skipped":   out.Count(planner.StatusSkipped),
	}))
	return Result{
		Answer:     answer,
		Transcript: tr,
		Status:     StatusCompleted,
		Iterations: dispatched,
	}
}

func (e *Engine) aborted(ctx context.Context, task core.Task, tr *transcript.Transcript, reason string, err error, iterations int) Result {
	runID, _ := core.RunID(ctx)
	e.logger.WarnContext(ctx, "engine.run.aborted", "run_id", runID, "reason", reason, "error", err)
	e.emitter.Emit(ctx, core.NewEvent(core.EventRunAborted, runID, task.ID, map[string]any{
		"status": string(StatusAborted),
		"reason": reason,
	}))
	return Result{
		Transcript: tr,
		Status:     StatusAborted,
		Reason:     reason,
		Iterations: iterations,
		Err:        err,
	}
}

func (e *Engine) save(ctx context.Context, task core.Task, res Result, start time.Time) {
	if e.archive == nil {
		return
	}
	rec := transcript.Record{
		RunID:      res.RunID,
		TaskID:     task.ID,
		Objective:  task.Objective,
		Mode:       string(res.Mode),
		Status:     string(res.Status),
		Answer:     res.Answer,
		Reason:     res.Reason,
		Steps:      res.Transcript.Steps(),
		StartedAt:  start.UTC(),
		FinishedAt: start.Add(res.Duration).UTC(),
	}
	if err := e.archive.Save(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.WarnContext(ctx, "engine.archive.error", "run_id", res.RunID, "error", err)
	}
}
