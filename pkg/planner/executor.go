// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/core"
	"github.com/jllopis/reactloop/pkg/telemetry"
	"github.com/jllopis/reactloop/pkg/transcript"
)

// DefaultConcurrencyLimit bounds parallel node execution when no limit is set.
const DefaultConcurrencyLimit = 4

// NodeStatus is the settled state of a plan node.
type NodeStatus string

const (
	StatusStarted   NodeStatus = "started"
	StatusCompleted NodeStatus = "completed"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
)

// Actions is the subset of the action registry the executor needs.
type Actions interface {
	Resolve(name string) (action.Definition, error)
	ValidateInput(name string, arg action.Argument) bool
	Invoke(ctx context.Context, name string, arg action.Argument) action.Observation
}

// NodeResult is the settled outcome of one node.
type NodeResult struct {
	NodeID      string
	Action      string
	Reasoning   string
	Argument    action.Argument
	Observation string
	Data        any
	Status      NodeStatus
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Outcome is the result of executing a plan.
type Outcome struct {
	PlanID string
	RunID  string
	// Order lists node ids in topological order.
	Order   []string
	Results map[string]NodeResult
	// Cancelled is set when cancellation prevented at least one node from running.
	Cancelled bool
}

// Ordered returns the node results in topological order.
func (o *Outcome) Ordered() []NodeResult {
	out := make([]NodeResult, 0, len(o.Order))
	for _, id := range o.Order {
		out = append(out, o.Results[id])
	}
	return out
}

// Transcript assembles the settled results into a transcript in
// topological order.
func (o *Outcome) Transcript() *transcript.Transcript {
	tr := transcript.New()
	for _, r := range o.Ordered() {
		kind := transcript.KindResult
		switch r.Status {
		case StatusFailed:
			kind = transcript.KindError
		case StatusSkipped:
			kind = transcript.KindSkipped
		}
		tr.Append(transcript.Step{
			NodeID:      r.NodeID,
			Reasoning:   r.Reasoning,
			Action:      r.Action,
			Argument:    r.Argument,
			Observation: r.Observation,
			Kind:        kind,
			StartedAt:   r.StartedAt,
			FinishedAt:  r.FinishedAt,
		})
	}
	return tr
}

// Count returns how many nodes settled with status.
func (o *Outcome) Count(status NodeStatus) int {
	n := 0
	for _, r := range o.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// slot holds one node's result. It is written exactly once, by the node's
// own worker, and done is closed after the write.
type slot struct {
	once   sync.Once
	done   chan struct{}
	result NodeResult
}

func (s *slot) settle(r NodeResult) {
	s.once.Do(func() {
		s.result = r
		close(s.done)
	})
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithConcurrencyLimit bounds the number of nodes running at once.
func WithConcurrencyLimit(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithAuditStore records node lifecycle events in store.
func WithAuditStore(store AuditStore) ExecutorOption {
	return func(e *Executor) {
		e.audit = store
	}
}

// WithAuditHook calls hook for every node lifecycle event.
func WithAuditHook(hook AuditHook) ExecutorOption {
	return func(e *Executor) {
		e.hook = hook
	}
}

// WithEventEmitter sets the semantic event sink.
func WithEventEmitter(em core.EventEmitter) ExecutorOption {
	return func(e *Executor) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the run metrics sink.
func WithMetrics(m *telemetry.RunMetrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// Executor runs a validated plan against an action registry.
type Executor struct {
	actions Actions
	limit   int
	audit   AuditStore
	hook    AuditHook
	emitter core.EventEmitter
	logger  *slog.Logger
	metrics *telemetry.RunMetrics
	tracer  trace.Tracer
}

// NewExecutor creates an executor over actions.
func NewExecutor(actions Actions, opts ...ExecutorOption) *Executor {
	e := &Executor{
		actions: actions,
		limit:   DefaultConcurrencyLimit,
		emitter: core.NoopEventEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("reactloop/planner"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every node of plan. Nodes start as soon as their
// dependencies settle, bounded by the concurrency limit. A failed node
// becomes an error observation and its descendants are skipped; siblings
// keep running. Cancellation is checked before each dispatch. The returned
// error is non-nil only for an invalid plan.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Outcome, error) {
	order, err := plan.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	deps := plan.Dependencies()
	ctx, runID := core.EnsureRunID(ctx)

	ctx, span := e.tracer.Start(ctx, "Planner.Execute",
		trace.WithAttributes(telemetry.PlanAttributes(plan.ID, len(plan.Nodes), e.limit)...),
		trace.WithAttributes(attribute.String(telemetry.AttrRunID, runID)),
	)
	defer span.End()

	slots := make(map[string]*slot, len(plan.Nodes))
	for _, n := range plan.Nodes {
		slots[n.ID] = &slot{done: make(chan struct{})}
	}

	sem := semaphore.NewWeighted(int64(e.limit))
	var g errgroup.Group
	for _, node := range plan.Nodes {
		g.Go(func() error {
			slots[node.ID].settle(e.runNode(ctx, plan.ID, runID, node, deps[node.ID], slots, sem))
			return nil
		})
	}
	_ = g.Wait()

	out := &Outcome{
		PlanID:  plan.ID,
		RunID:   runID,
		Order:   order,
		Results: make(map[string]NodeResult, len(slots)),
	}
	for id, s := range slots {
		out.Results[id] = s.result
		if s.result.Status == StatusSkipped && strings.HasPrefix(s.result.Observation, skipCancelled) {
			out.Cancelled = true
		}
	}
	span.SetAttributes(
		attribute.Int("reactloop.plan.completed", out.Count(StatusCompleted)),
		attribute.Int("reactloop.plan.failed", out.Count(StatusFailed)),
		attribute.Int("reactloop.plan.skipped", out.Count(StatusSkipped)),
	)
	if out.Cancelled {
		span.SetStatus(codes.Error, "cancelled")
	}
	return out, nil
}

const skipCancelled = "cancelled before dispatch"

func (e *Executor) runNode(ctx context.Context, planID, runID string, node Node, deps []string, slots map[string]*slot, sem *semaphore.Weighted) NodeResult {
	res := NodeResult{
		NodeID:    node.ID,
		Action:    node.Action,
		Reasoning: node.Reasoning,
		Argument:  node.Argument,
	}

	evidence := make(map[string]string, len(deps))
	for _, dep := range deps {
		s := slots[dep]
		<-s.done
		if s.result.Status != StatusCompleted {
			return e.skip(ctx, planID, runID, res, fmt.Sprintf("dependency %s did not complete (%s)", dep, s.result.Status))
		}
		evidence[dep] = s.result.Observation
	}

	if ctx.Err() != nil {
		return e.skip(ctx, planID, runID, res, skipCancelled)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return e.skip(ctx, planID, runID, res, skipCancelled)
	}
	defer sem.Release(1)
	if ctx.Err() != nil {
		return e.skip(ctx, planID, runID, res, skipCancelled)
	}

	res.Argument = substituteEvidence(node.Argument, evidence)
	res.StartedAt = time.Now()
	e.record(ctx, planID, runID, res, StatusStarted)
	e.logger.DebugContext(ctx, "planner.node.start", "plan_id", planID, "node_id", node.ID, "action", node.Action)

	nodeCtx, span := e.tracer.Start(ctx, "Planner.Node",
		trace.WithAttributes(telemetry.NodeAttributes(planID, node.ID, node.Action)...),
	)
	defer span.End()

	if _, err := e.actions.Resolve(node.Action); err != nil {
		return e.fail(nodeCtx, planID, runID, res, action.ErrorText(node.Action, err), err, span)
	}
	if !e.actions.ValidateInput(node.Action, res.Argument) {
		msg := fmt.Sprintf("Error executing %s: invalid argument %q", node.Action, res.Argument.Text())
		return e.fail(nodeCtx, planID, runID, res, msg, nil, span)
	}

	obs := e.actions.Invoke(nodeCtx, node.Action, res.Argument)
	e.metrics.RecordAction(nodeCtx, node.Action, !obs.IsError, obs.Cached)
	span.SetAttributes(telemetry.ActionAttributes(node.Action, !obs.IsError, obs.Cached, float64(obs.Duration.Milliseconds()))...)
	if obs.IsError {
		return e.fail(nodeCtx, planID, runID, res, obs.Text, nil, span)
	}

	res.Observation = obs.Text
	res.Data = obs.Data
	res.Status = StatusCompleted
	res.FinishedAt = time.Now()
	e.record(nodeCtx, planID, runID, res, StatusCompleted)
	e.metrics.RecordNode(nodeCtx, string(StatusCompleted))
	e.logger.InfoContext(nodeCtx, "planner.node.completed",
		"plan_id", planID,
		"node_id", node.ID,
		"action", node.Action,
		"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	)
	return res
}

func (e *Executor) fail(ctx context.Context, planID, runID string, res NodeResult, msg string, err error, span trace.Span) NodeResult {
	res.Observation = msg
	res.Status = StatusFailed
	res.FinishedAt = time.Now()
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, msg)
	e.record(ctx, planID, runID, res, StatusFailed)
	e.metrics.RecordNode(ctx, string(StatusFailed))
	e.logger.WarnContext(ctx, "planner.node.failed", "plan_id", planID, "node_id", res.NodeID, "action", res.Action, "observation", msg)
	return res
}

func (e *Executor) skip(ctx context.Context, planID, runID string, res NodeResult, reason string) NodeResult {
	now := time.Now()
	res.Observation = reason
	res.Status = StatusSkipped
	res.StartedAt = now
	res.FinishedAt = now
	e.record(ctx, planID, runID, res, StatusSkipped)
	e.metrics.RecordNode(ctx, string(StatusSkipped))
	e.logger.InfoContext(ctx, "planner.node.skipped", "plan_id", planID, "node_id", res.NodeID, "reason", reason)
	return res
}

var nodeEventTypes = map[NodeStatus]core.EventType{
	StatusStarted:   core.EventNodeStarted,
	StatusCompleted: core.EventNodeCompleted,
	StatusFailed:    core.EventNodeFailed,
	StatusSkipped:   core.EventNodeSkipped,
}

func (e *Executor) record(ctx context.Context, planID, runID string, res NodeResult, status NodeStatus) {
	ev := AuditEvent{
		PlanID:     planID,
		RunID:      runID,
		NodeID:     res.NodeID,
		Action:     res.Action,
		Status:     status,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	switch status {
	case StatusCompleted:
		ev.Observation = res.Observation
	case StatusFailed, StatusSkipped:
		ev.Error = res.Observation
	}

	if e.hook != nil {
		e.hook(ctx, ev)
	}
	if e.audit != nil {
		if err := e.audit.Record(context.WithoutCancel(ctx), ev); err != nil {
			e.logger.WarnContext(ctx, "planner.audit.error", "node_id", res.NodeID, "error", err)
		}
	}
	e.emitter.Emit(ctx, core.NewEvent(nodeEventTypes[status], runID, "", map[string]any{
		"plan_id": planID,
		"node_id": res.NodeID,
		"action":  res.Action,
		"status":  string(status),
	}))
}

// substituteEvidence replaces #id references with the observations of
// completed dependencies. Unknown references are left untouched.
func substituteEvidence(arg action.Argument, evidence map[string]string) action.Argument {
	if len(evidence) == 0 {
		return arg
	}
	replace := func(s string) string {
		return evidenceRef.ReplaceAllStringFunc(s, func(m string) string {
			if v, ok := evidence[m[1:]]; ok {
				return v
			}
			return m
		})
	}
	if !arg.IsStructured() {
		return action.Text(replace(arg.Text()))
	}
	fields := arg.Fields()
	for k, v := range fields {
		fields[k] = substituteValue(v, replace)
	}
	return action.Fields(fields)
}

func substituteValue(v any, replace func(string) string) any {
	switch val := v.(type) {
	case string:
		return replace(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = substituteValue(item, replace)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, replace)
		}
		return out
	default:
		return v
	}
}
