// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for reasoning-loop observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for reactloop telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Run attributes
	AttrRunID      = "reactloop.run.id"
	AttrRunMode    = "reactloop.run.mode"
	AttrRunStatus  = "reactloop.run.status"
	AttrRunReason  = "reactloop.run.reason"
	AttrTaskID     = "reactloop.task.id"
	AttrTaskGoal   = "reactloop.task.objective"
	AttrIterations = "reactloop.run.iterations"

	// Loop attributes
	AttrLoopIteration  = "reactloop.loop.iteration"
	AttrLoopMaxIter    = "reactloop.loop.max_iterations"
	AttrLoopState      = "reactloop.loop.state"
	AttrLoopCorrection = "reactloop.loop.correction"
	AttrConfidence     = "reactloop.oracle.confidence"

	// Action attributes
	AttrActionName       = "reactloop.action.name"
	AttrActionArgs       = "reactloop.action.argument"
	AttrActionResult     = "reactloop.action.observation"
	AttrActionDurationMs = "reactloop.action.duration_ms"
	AttrActionSuccess    = "reactloop.action.success"
	AttrActionCached     = "reactloop.action.cached"
	AttrActionsCount     = "reactloop.actions.count"
	AttrActionsNames     = "reactloop.actions.names"

	// Planner attributes
	AttrPlanID         = "reactloop.plan.id"
	AttrPlanNodeCount  = "reactloop.plan.node_count"
	AttrPlanNodeID     = "reactloop.plan.node_id"
	AttrPlanNodeStatus = "reactloop.plan.node_status"
	AttrPlanLimit      = "reactloop.plan.concurrency_limit"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
)

// RunAttributes returns common attributes for run spans.
func RunAttributes(runID, taskID, mode string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
	}
	if taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}
	if mode != "" {
		attrs = append(attrs, attribute.String(AttrRunMode, mode))
	}
	return attrs
}

// TaskAttributes returns attributes for task tracking.
func TaskAttributes(taskID, objective string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}
	if objective != "" {
		attrs = append(attrs, attribute.String(AttrTaskGoal, Truncate(objective, 200)))
	}
	return attrs
}

// OutcomeAttributes describes how a run ended.
func OutcomeAttributes(status, reason string, iterations int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunStatus, status),
		attribute.Int(AttrIterations, iterations),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrRunReason, reason))
	}
	return attrs
}

// IterationAttributes returns attributes for a loop iteration span.
func IterationAttributes(iteration, maxIter int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrLoopIteration, iteration),
	}
	if maxIter > 0 {
		attrs = append(attrs, attribute.Int(AttrLoopMaxIter, maxIter))
	}
	return attrs
}

// ActionAttributes returns attributes for an action invocation.
func ActionAttributes(name string, success, cached bool, durationMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrActionName, name),
		attribute.Bool(AttrActionSuccess, success),
		attribute.Bool(AttrActionCached, cached),
		attribute.Float64(AttrActionDurationMs, durationMs),
	}
}

// ActionArgsResult returns attributes with the action argument and observation
// (truncated for safety).
func ActionArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{}
	if args != "" {
		attrs = append(attrs, attribute.String(AttrActionArgs, Truncate(args, maxLen)))
	}
	if result != "" {
		attrs = append(attrs, attribute.String(AttrActionResult, Truncate(result, maxLen)))
	}
	return attrs
}

// ActionSetAttributes describes the actions available to a run.
func ActionSetAttributes(names []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrActionsCount, len(names)),
	}
	if len(names) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrActionsNames, names))
	}
	return attrs
}

// PlanAttributes returns attributes for a plan execution span.
func PlanAttributes(planID string, nodeCount, limit int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrPlanNodeCount, nodeCount),
	}
	if planID != "" {
		attrs = append(attrs, attribute.String(AttrPlanID, planID))
	}
	if limit > 0 {
		attrs = append(attrs, attribute.Int(AttrPlanLimit, limit))
	}
	return attrs
}

// NodeAttributes returns attributes for a plan node span.
func NodeAttributes(planID, nodeID, action string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrPlanNodeID, nodeID),
		attribute.String(AttrActionName, action),
	}
	if planID != "" {
		attrs = append(attrs, attribute.String(AttrPlanID, planID))
	}
	return attrs
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model, provider string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}

// Truncate shortens s to at most maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
