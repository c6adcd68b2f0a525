// SPDX-License-Identifier: Apache-2.0
// Package transcript records the ordered steps of one task execution.
package transcript

import (
	"iter"
	"slices"
	"strings"
	"time"
)

// Transcript is an append-only sequence of steps. It is owned by a single
// execution and is not safe for concurrent appends.
type Transcript struct {
	steps []Step
	now   func() time.Time
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{now: time.Now}
}

// FromSteps builds a transcript from already-sequenced steps, renumbering
// them in order.
func FromSteps(steps []Step) *Transcript {
	t := New()
	for _, s := range steps {
		t.Append(s)
	}
	return t
}

// Append assigns the next sequence number and records the step.
func (t *Transcript) Append(step Step) Step {
	step.Seq = len(t.steps) + 1
	if step.StartedAt.IsZero() {
		step.StartedAt = t.now()
	}
	if step.FinishedAt.IsZero() {
		step.FinishedAt = step.StartedAt
	}
	t.steps = append(t.steps, step)
	return step
}

// Len returns the number of steps.
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	return len(t.steps)
}

// Steps returns a copy of every step.
func (t *Transcript) Steps() []Step {
	if t == nil {
		return nil
	}
	return slices.Clone(t.steps)
}

// Last returns the most recent step.
func (t *Transcript) Last() (Step, bool) {
	if t.Len() == 0 {
		return Step{}, false
	}
	return t.steps[len(t.steps)-1], true
}

func (t *Transcript) tail(window int) []Step {
	if t == nil {
		return nil
	}
	// Full slice expression: later appends must never write into the tail.
	steps := t.steps[:len(t.steps):len(t.steps)]
	if window > 0 && window < len(steps) {
		steps = steps[len(steps)-window:]
	}
	return steps
}

// Render yields formatted entries, limited to the last window steps when
// window > 0. The sequence is restartable and reflects the transcript at the
// time Render was called.
func (t *Transcript) Render(window int) iter.Seq[string] {
	return renderSteps(t.tail(window))
}

func renderSteps(steps []Step) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, s := range steps {
			if !yield(Format(s)) {
				return
			}
		}
	}
}

// View returns a snapshot of the last window steps for the oracle.
func (t *Transcript) View(window int) View {
	return View{Steps: slices.Clone(t.tail(window)), Total: t.Len()}
}

// ActionKey identifies an (action, argument) pair.
type ActionKey struct {
	Action string
	Key    string
}

// LastNActions returns the most recent n (action, argument) pairs, oldest first.
func (t *Transcript) LastNActions(n int) []ActionKey {
	if n <= 0 {
		return nil
	}
	steps := t.tail(n)
	out := make([]ActionKey, len(steps))
	for i, s := range steps {
		out[i] = ActionKey{Action: s.Action, Key: s.Argument.Key()}
	}
	return out
}

// View is a read-only snapshot of a transcript window.
type View struct {
	Steps []Step
	// Total is the transcript length when the view was taken.
	Total int
}

// Render yields the formatted entries of the view.
func (v View) Render() iter.Seq[string] {
	return renderSteps(v.Steps)
}

// Len returns the number of steps in the view.
func (v View) Len() int {
	return len(v.Steps)
}

// Omitted returns how many earlier steps fall outside the window.
func (v View) Omitted() int {
	return v.Total - len(v.Steps)
}

// String joins the rendered entries with blank lines.
func (v View) String() string {
	var b strings.Builder
	for entry := range v.Render() {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(entry)
	}
	return b.String()
}
