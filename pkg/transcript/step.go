// SPDX-License-Identifier: Apache-2.0
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/reactloop/pkg/action"
)

// Kind classifies a step's observation.
type Kind string

const (
	// KindResult is a successful action observation.
	KindResult Kind = "result"
	// KindError is a failed action or oracle call converted to text.
	KindError Kind = "error"
	// KindCorrective is a synthetic observation produced by the controller.
	KindCorrective Kind = "corrective"
	// KindFinal marks the terminal step.
	KindFinal Kind = "final"
	// KindSkipped marks a plan node that never ran.
	KindSkipped Kind = "skipped"
)

// Step is one reasoning+action decision and its observation. Steps are
// immutable once appended.
type Step struct {
	Seq         int             `json:"seq"`
	NodeID      string          `json:"node_id,omitempty"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Action      string          `json:"action"`
	Argument    action.Argument `json:"argument"`
	Observation string          `json:"observation,omitempty"`
	Kind        Kind            `json:"kind,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// HasObservation reports whether an observation was recorded.
func (s Step) HasObservation() bool {
	return s.Kind != "" && s.Kind != KindFinal
}

// IsTerminal reports whether the step names the terminal action.
func (s Step) IsTerminal() bool {
	return s.Action == action.Finish
}

// Duration returns the elapsed time between start and finish.
func (s Step) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Format renders the step in the Thought/Action/Observation layout shown to
// the oracle.
func Format(s Step) string {
	var b strings.Builder
	if s.NodeID != "" {
		fmt.Fprintf(&b, "#%s = ", s.NodeID)
	}
	if r := strings.TrimSpace(s.Reasoning); r != "" {
		fmt.Fprintf(&b, "Thought: %s\n", r)
	}
	fmt.Fprintf(&b, "Action: %s\n", s.Action)
	fmt.Fprintf(&b, "Action Input: %s", s.Argument.Text())
	switch s.Kind {
	case "", KindFinal:
	case KindSkipped:
		fmt.Fprintf(&b, "\nObservation: (skipped) %s", s.Observation)
	default:
		fmt.Fprintf(&b, "\nObservation: %s", s.Observation)
	}
	return b.String()
}
