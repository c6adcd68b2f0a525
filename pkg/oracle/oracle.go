// SPDX-License-Identifier: Apache-2.0
// Package oracle adapts a decision-making capability, usually an LLM, to the
// reasoning loop. An oracle is stateless: every call receives the task, a
// view of the transcript and the action catalogue.
package oracle

import (
	"context"
	"fmt"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/core"
	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/planner"
	"github.com/jllopis/reactloop/pkg/transcript"
)

// Request is the input of one decision call.
type Request struct {
	Task    core.Task
	View    transcript.View
	Actions []action.Description
	// Strict asks for the narrowest output format after a malformed reply.
	Strict bool
	// Iteration is the 1-based loop iteration the decision is for.
	Iteration int
}

// Decision is the oracle's proposed next step.
type Decision struct {
	Reasoning string
	Action    string
	Argument  action.Argument
	// Confidence is advisory and never drives control flow.
	Confidence *float64
	// Raw holds the unparsed oracle output, when there was one.
	Raw string
}

// IsFinish reports whether the decision names the terminal action.
func (d Decision) IsFinish() bool {
	return d.Action == action.Finish
}

// Oracle proposes the next step of a reasoning loop.
type Oracle interface {
	Propose(ctx context.Context, req Request) (Decision, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (Decision, error)

// Propose implements Oracle.
func (f Func) Propose(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Planner produces a ReWOO plan in a single call.
type Planner = planner.PlanOracle

// Synthesizer turns executed plan results into a final answer.
type Synthesizer = planner.Synthesizer

// MalformedDecision builds the error returned when oracle output has no
// usable action.
func MalformedDecision(raw, format string, args ...any) *errors.Error {
	return errors.New(errors.CodeMalformedDecision, fmt.Sprintf(format, args...), nil).
		WithContext("raw", raw).
		WithRecoverable(true)
}

// Act builds a decision for a non-terminal action.
func Act(reasoning, name string, arg action.Argument) Decision {
	return Decision{Reasoning: reasoning, Action: name, Argument: arg}
}

// Final builds a decision that finishes the run with answer.
func Final(reasoning, answer string) Decision {
	return Decision{Reasoning: reasoning, Action: action.Finish, Argument: action.Text(answer)}
}
