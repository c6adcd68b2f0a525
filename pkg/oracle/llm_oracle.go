// SPDX-License-Identifier: Apache-2.0
package oracle

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/llm"
	"github.com/jllopis/reactloop/pkg/planner"
	"github.com/jllopis/reactloop/pkg/resilience"
	"github.com/jllopis/reactloop/pkg/telemetry"
)

// LLMOracle implements Oracle, Planner and Synthesizer on top of an
// llm.Provider.
type LLMOracle struct {
	provider     llm.Provider
	providerName string
	model        string
	temperature  float64
	retry        resilience.RetryConfig
	logger       *slog.Logger
	tracer       trace.Tracer
}

// LLMOption configures an LLMOracle.
type LLMOption func(*LLMOracle)

// WithModel sets the model name sent with every request.
func WithModel(model string) LLMOption {
	return func(o *LLMOracle) {
		o.model = model
	}
}

// WithProviderName labels spans with the backend name.
func WithProviderName(name string) LLMOption {
	return func(o *LLMOracle) {
		o.providerName = name
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(o *LLMOracle) {
		o.temperature = t
	}
}

// WithRetry sets the retry policy for provider transport errors.
func WithRetry(rc resilience.RetryConfig) LLMOption {
	return func(o *LLMOracle) {
		o.retry = rc
	}
}

// WithLogger sets the oracle logger.
func WithLogger(l *slog.Logger) LLMOption {
	return func(o *LLMOracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewLLMOracle creates an oracle backed by provider.
func NewLLMOracle(provider llm.Provider, opts ...LLMOption) *LLMOracle {
	o := &LLMOracle{
		provider: provider,
		retry:    resilience.DefaultRetryConfig(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("reactloop/oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Propose asks the model for the next step and parses its reply.
func (o *LLMOracle) Propose(ctx context.Context, req Request) (Decision, error) {
	chat := llm.ChatRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: decisionSystemPrompt(req.Actions, req.Strict)},
			{Role: llm.RoleUser, Content: decisionUserPrompt(req.Task, req.View)},
		},
	}
	if req.Strict {
		chat.Format = "json"
	}
	content, err := o.chat(ctx, "Oracle.Propose", chat)
	if err != nil {
		return Decision{}, err
	}
	d, err := ParseDecision(content)
	if err != nil {
		o.logger.DebugContext(ctx, "oracle.decision.malformed", "iteration", req.Iteration, "strict", req.Strict)
		return d, err
	}
	return d, nil
}

// Plan asks the model for a ReWOO plan.
func (o *LLMOracle) Plan(ctx context.Context, req planner.PlanRequest) (*planner.Plan, error) {
	content, err := o.chat(ctx, "Oracle.Plan", llm.ChatRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Format:      "json",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planSystemPrompt(req.Actions)},
			{Role: llm.RoleUser, Content: "Task: " + req.Task.Objective},
		},
	})
	if err != nil {
		return nil, err
	}
	return ParsePlan(content)
}

// Synthesize asks the model for the final answer from executed plan results.
func (o *LLMOracle) Synthesize(ctx context.Context, req planner.SynthesisRequest) (string, error) {
	content, err := o.chat(ctx, "Oracle.Synthesize", llm.ChatRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: synthesisInstructions},
			{Role: llm.RoleUser, Content: synthesisUserPrompt(req.Task, req.Results)},
		},
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(stripFences(content))
	if answer == "" {
		return "", errors.New(errors.CodeLLMError, "model returned an empty answer", nil)
	}
	return answer, nil
}

func (o *LLMOracle) chat(ctx context.Context, spanName string, req llm.ChatRequest) (string, error) {
	if o.provider == nil {
		return "", errors.New(errors.CodeInvalidInput, "oracle has no llm provider", nil)
	}
	ctx, span := o.tracer.Start(ctx, spanName,
		trace.WithAttributes(telemetry.LLMAttributes(o.model, o.providerName, len(req.Messages))...),
	)
	defer span.End()

	start := time.Now()
	rc := o.retry
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, err error, wait time.Duration) {
			o.logger.DebugContext(ctx, "oracle.llm.retry", "span", spanName, "attempt", attempt, "wait", wait, "error", err)
		}
	}
	resp, err := resilience.DoWithResult(ctx, rc, func() (*llm.ChatResponse, error) {
		return o.provider.Chat(ctx, req)
	})
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.WarnContext(ctx, "oracle.llm.error", "span", spanName, "error", err)
		if errors.CodeOf(err) == "" {
			return "", errors.New(errors.CodeLLMError, "llm call failed", err).WithRecoverable(true)
		}
		return "", err
	}
	if resp == nil {
		return "", errors.New(errors.CodeLLMError, "llm returned no response", nil)
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, float64(elapsed.Milliseconds()))...)
	o.logger.DebugContext(ctx, "oracle.llm.response", "span", spanName, "duration_ms", elapsed.Milliseconds(), "chars", len(resp.Content))
	return resp.Content, nil
}
