// SPDX-License-Identifier: Apache-2.0
// Package loop implements the sequential ReAct controller: it asks the
// oracle for one step at a time, executes the chosen action and feeds the
// observation back until the oracle finishes or a limit is reached.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/core"
	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/oracle"
	"github.com/jllopis/reactloop/pkg/resilience"
	"github.com/jllopis/reactloop/pkg/telemetry"
	"github.com/jllopis/reactloop/pkg/transcript"
)

const (
	DefaultMaxIterations       = 10
	DefaultRepetitionTolerance = 3

	// MalformedAction is recorded as the action of a step whose decision
	// could not be parsed.
	MalformedAction = "<malformed>"

	RepetitionObservation = "repeated action detected, try a different approach"
)

// Config bounds one run.
type Config struct {
	MaxIterations       int
	RepetitionTolerance int
	// TranscriptWindow limits how many recent steps the oracle sees. Zero
	// shows the whole transcript.
	TranscriptWindow int
	// OracleTimeout bounds each oracle call. Zero disables the bound.
	OracleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.RepetitionTolerance <= 0 {
		c.RepetitionTolerance = DefaultRepetitionTolerance
	}
	if c.TranscriptWindow < 0 {
		c.TranscriptWindow = 0
	}
	return c
}

// Actions is the subset of the action registry the controller needs.
type Actions interface {
	Resolve(name string) (action.Definition, error)
	ValidateInput(name string, arg action.Argument) bool
	Invoke(ctx context.Context, name string, arg action.Argument) action.Observation
	Descriptions() []action.Description
	Names() []string
}

// Outcome is the result of one run.
type Outcome struct {
	Answer     string
	Status     Status
	Reason     string
	Iterations int
	Transcript *transcript.Transcript
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEventEmitter sets the semantic event sink.
func WithEventEmitter(em core.EventEmitter) Option {
	return func(c *Controller) {
		if em != nil {
			c.emitter = em
		}
	}
}

// WithMetrics sets the run metrics sink.
func WithMetrics(m *telemetry.RunMetrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller drives the ReAct state machine. A Controller holds no per-run
// state and may serve concurrent runs.
type Controller struct {
	oracle  oracle.Oracle
	actions Actions
	cfg     Config
	logger  *slog.Logger
	emitter core.EventEmitter
	metrics *telemetry.RunMetrics
	tracer  trace.Tracer
}

// New creates a controller.
func New(o oracle.Oracle, actions Actions, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		oracle:  o,
		actions: actions,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
		emitter: core.NoopEventEmitter{},
		tracer:  otel.Tracer("reactloop/loop"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// run holds the state of one execution.
type run struct {
	*Controller
	task    core.Task
	runID   string
	tr      *transcript.Transcript
	catalog []action.Description
	state   State

	// warned is set after a repetition correction; warnedKey is the pair
	// that triggered it.
	warned    bool
	warnedKey transcript.ActionKey
}

// Run executes task until the oracle finishes, the iteration cap is hit,
// the repetition guard trips twice in a row, or ctx is cancelled. Failures
// inside an iteration become observations; Run never returns an error.
func (c *Controller) Run(ctx context.Context, task core.Task) Outcome {
	ctx, runID := core.EnsureRunID(ctx)
	r := &run{
		Controller: c,
		task:       task,
		runID:      runID,
		tr:         transcript.New(),
		catalog:    allowed(task, c.actions.Descriptions()),
		state:      StateRunning,
	}

	ctx, span := c.tracer.Start(ctx, "Loop.Run",
		trace.WithAttributes(telemetry.TaskAttributes(task.ID, task.Objective)...),
		trace.WithAttributes(attribute.String(telemetry.AttrRunID, runID)),
	)
	defer span.End()
	span.SetAttributes(telemetry.ActionSetAttributes(c.actions.Names())...)

	c.logger.InfoContext(ctx, "loop.run.start",
		"run_id", runID,
		"task_id", task.ID,
		"max_iterations", c.cfg.MaxIterations,
		"repetition_tolerance", c.cfg.RepetitionTolerance,
	)

	r.emit(ctx, core.EventRunStarted, map[string]any{"mode": "sequential"})
	out := r.loop(ctx)
	out.Transcript = r.tr

	span.SetAttributes(telemetry.OutcomeAttributes(string(out.Status), out.Reason, out.Iterations)...)
	if out.Status != StatusCompleted {
		span.SetStatus(codes.Error, string(out.Status))
	}
	c.logger.InfoContext(ctx, "loop.run.end",
		"run_id", runID,
		"status", out.Status,
		"reason", out.Reason,
		"iterations", out.Iterations,
		"steps", r.tr.Len(),
	)
	return out
}

func (r *run) loop(ctx context.Context) Outcome {
	for iteration := 1; ; iteration++ {
		if ctx.Err() != nil {
			return r.abort(ctx, StatusAborted, ReasonCancelled, iteration-1)
		}
		if iteration > r.cfg.MaxIterations {
			return r.abort(ctx, StatusMaxIterations, ReasonMaxIterations, iteration-1)
		}

		iterCtx, span := r.tracer.Start(ctx, "Loop.Iteration",
			trace.WithAttributes(telemetry.IterationAttributes(iteration, r.cfg.MaxIterations)...),
		)
		r.metrics.RecordIteration(iterCtx)
		out, done := r.iterate(iterCtx, iteration)
		span.End()
		if done {
			return out
		}
	}
}

// iterate runs one RUNNING → ... → RUNNING cycle. It reports done when the
// run reached a terminal state.
func (r *run) iterate(ctx context.Context, iteration int) (Outcome, bool) {
	r.transition(ctx, StateAwaitingDecision, iteration)
	r.logger.DebugContext(ctx, "loop.iteration.start", "run_id", r.runID, "iteration", iteration)

	started := time.Now()
	d, err := r.decide(ctx, iteration)
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(ctx, StatusAborted, ReasonCancelled, iteration-1), true
		}
		// A malformed step breaks any run of identical decisions.
		r.warned = false
		r.correct(ctx, iteration, "malformed", transcript.Step{
			Reasoning:   d.Reasoning,
			Action:      MalformedAction,
			Argument:    action.Text(strings.TrimSpace(d.Raw)),
			Observation: decisionErrorText(err),
			Kind:        transcript.KindError,
			StartedAt:   started,
		})
		return Outcome{}, false
	}

	r.emit(ctx, core.EventStepProposed, map[string]any{
		"iteration": iteration,
		"action":    d.Action,
		"argument":  d.Argument.Text(),
	})
	if d.Confidence != nil {
		r.logger.DebugContext(ctx, "loop.decision.confidence", "run_id", r.runID, "iteration", iteration, "confidence", *d.Confidence)
	}

	if d.IsFinish() {
		r.tr.Append(transcript.Step{
			Reasoning:  d.Reasoning,
			Action:     action.Finish,
			Argument:   d.Argument,
			Kind:       transcript.KindFinal,
			Confidence: d.Confidence,
			StartedAt:  started,
		})
		r.transition(ctx, StateCompleted, iteration)
		r.emit(ctx, core.EventRunCompleted, map[string]any{"iterations": iteration})
		return Outcome{Answer: d.Argument.Text(), Status: StatusCompleted, Iterations: iteration}, true
	}

	key := transcript.ActionKey{Action: d.Action, Key: d.Argument.Key()}
	if r.warned && key == r.warnedKey {
		r.logger.WarnContext(ctx, "loop.repetition.abort", "run_id", r.runID, "iteration", iteration, "action", d.Action)
		return r.abort(ctx, StatusAborted, ReasonRepetition, iteration), true
	}
	r.warned = false
	if r.repeats(key) {
		r.warned = true
		r.warnedKey = key
		r.logger.WarnContext(ctx, "loop.repetition.detected", "run_id", r.runID, "iteration", iteration, "action", d.Action)
		r.correct(ctx, iteration, "repetition", transcript.Step{
			Reasoning:   d.Reasoning,
			Action:      d.Action,
			Argument:    d.Argument,
			Observation: RepetitionObservation,
			Kind:        transcript.KindCorrective,
			Confidence:  d.Confidence,
			StartedAt:   started,
		})
		return Outcome{}, false
	}

	if _, err := r.actions.Resolve(d.Action); err != nil || !r.task.Allows(d.Action) {
		r.correct(ctx, iteration, "unknown_action", transcript.Step{
			Reasoning:   d.Reasoning,
			Action:      d.Action,
			Argument:    d.Argument,
			Observation: r.unknownActionText(d.Action),
			Kind:        transcript.KindCorrective,
			Confidence:  d.Confidence,
			StartedAt:   started,
		})
		return Outcome{}, false
	}
	if !r.actions.ValidateInput(d.Action, d.Argument) {
		r.correct(ctx, iteration, "invalid_argument", transcript.Step{
			Reasoning:   d.Reasoning,
			Action:      d.Action,
			Argument:    d.Argument,
			Observation: fmt.Sprintf("Invalid argument for %s: %q. Check the expected input and try again.", d.Action, d.Argument.Text()),
			Kind:        transcript.KindCorrective,
			Confidence:  d.Confidence,
			StartedAt:   started,
		})
		return Outcome{}, false
	}

	r.transition(ctx, StateExecutingAction, iteration)
	obs := r.actions.Invoke(ctx, d.Action, d.Argument)
	r.metrics.RecordAction(ctx, d.Action, !obs.IsError, obs.Cached)
	trace.SpanFromContext(ctx).SetAttributes(
		telemetry.ActionAttributes(d.Action, !obs.IsError, obs.Cached, float64(obs.Duration.Milliseconds()))...,
	)
	kind := transcript.KindResult
	if obs.IsError {
		kind = transcript.KindError
		r.logger.WarnContext(ctx, "loop.action.error", "run_id", r.runID, "iteration", iteration, "action", d.Action, "observation", obs.Text)
	} else {
		r.logger.InfoContext(ctx, "loop.action.executed",
			"run_id", r.runID,
			"iteration", iteration,
			"action", d.Action,
			"cached", obs.Cached,
			"duration_ms", obs.Duration.Milliseconds(),
		)
	}
	r.tr.Append(transcript.Step{
		Reasoning:   d.Reasoning,
		Action:      d.Action,
		Argument:    d.Argument,
		Observation: obs.Text,
		Kind:        kind,
		Confidence:  d.Confidence,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	})
	r.emit(ctx, core.EventActionExecuted, map[string]any{
		"iteration": iteration,
		"action":    d.Action,
		"is_error":  obs.IsError,
		"cached":    obs.Cached,
	})
	r.transition(ctx, StateRunning, iteration)
	return Outcome{}, false
}

// decide asks the oracle for a step. A malformed reply gets one strict
// repair attempt; other failures are returned directly.
func (r *run) decide(ctx context.Context, iteration int) (oracle.Decision, error) {
	req := oracle.Request{
		Task:      r.task,
		View:      r.tr.View(r.cfg.TranscriptWindow),
		Actions:   r.catalog,
		Iteration: iteration,
	}
	d, err := r.propose(ctx, req)
	if err == nil || !errors.HasCode(err, errors.CodeMalformedDecision) {
		return d, err
	}
	r.logger.InfoContext(ctx, "loop.decision.repair", "run_id", r.runID, "iteration", iteration, "error", err)
	req.Strict = true
	repaired, rerr := r.propose(ctx, req)
	if rerr != nil && repaired.Raw == "" {
		repaired.Raw = d.Raw
	}
	return repaired, rerr
}

func (r *run) propose(ctx context.Context, req oracle.Request) (oracle.Decision, error) {
	return resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: r.cfg.OracleTimeout},
		func(ctx context.Context) (oracle.Decision, error) {
			d, err := r.oracle.Propose(ctx, req)
			if err == nil && strings.TrimSpace(d.Action) == "" {
				err = oracle.MalformedDecision(d.Raw, "decision has no action")
			}
			return d, err
		})
}

// repeats reports whether key equals each of the last tolerance pairs.
func (r *run) repeats(key transcript.ActionKey) bool {
	recent := r.tr.LastNActions(r.cfg.RepetitionTolerance)
	if len(recent) < r.cfg.RepetitionTolerance {
		return false
	}
	for _, k := range recent {
		if k != key {
			return false
		}
	}
	return true
}

// correct appends a synthetic observation and returns to RUNNING.
func (r *run) correct(ctx context.Context, iteration int, kind string, step transcript.Step) {
	step.FinishedAt = time.Now()
	r.tr.Append(step)
	r.metrics.RecordCorrection(ctx, kind)
	r.logger.InfoContext(ctx, "loop.correction", "run_id", r.runID, "iteration", iteration, "kind", kind, "action", step.Action)
	r.emit(ctx, core.EventCorrection, map[string]any{
		"iteration":   iteration,
		"kind":        kind,
		"action":      step.Action,
		"observation": step.Observation,
	})
	r.transition(ctx, StateRunning, iteration)
}

func (r *run) abort(ctx context.Context, status Status, reason string, iterations int) Outcome {
	r.transition(ctx, StateAborted, iterations)
	r.emit(ctx, core.EventRunAborted, map[string]any{
		"status":     string(status),
		"reason":     reason,
		"iterations": iterations,
	})
	return Outcome{Status: status, Reason: reason, Iterations: iterations}
}

func (r *run) transition(ctx context.Context, to State, iteration int) {
	from := r.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		r.logger.ErrorContext(ctx, "loop.state.invalid", "run_id", r.runID, "from", from, "to", to)
	}
	r.state = to
	r.logger.DebugContext(ctx, "loop.state", "run_id", r.runID, "iteration", iteration, "from", from, "to", to)
	r.emit(ctx, core.EventStateChanged, map[string]any{
		"from":      string(from),
		"to":        string(to),
		"iteration": iteration,
	})
}

func (r *run) emit(ctx context.Context, t core.EventType, payload map[string]any) {
	r.emitter.Emit(ctx, core.NewEvent(t, r.runID, r.task.ID, payload))
}

func (r *run) unknownActionText(name string) string {
	var valid []string
	for _, n := range r.actions.Names() {
		if r.task.Allows(n) {
			valid = append(valid, n)
		}
	}
	valid = append(valid, action.Finish)
	return fmt.Sprintf("Unknown action %q. Valid actions are: %s.", name, strings.Join(valid, ", "))
}

func allowed(task core.Task, descs []action.Description) []action.Description {
	out := descs[:0:0]
	for _, d := range descs {
		if task.Allows(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

func decisionErrorText(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		switch e.Code {
		case errors.CodeMalformedDecision:
			return "Invalid response format: " + e.Message + ". Reply with Thought, Action and Action Input."
		case errors.CodeTimeout:
			return "Error: the oracle did not answer in time."
		}
		return "Error: oracle call failed: " + e.Message
	}
	return "Error: oracle call failed: " + err.Error()
}
