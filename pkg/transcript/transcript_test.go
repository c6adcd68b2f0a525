// SPDX-License-Identifier: Apache-2.0
package transcript

import (
	"slices"
	"strings"
	"testing"

	"github.com/jllopis/reactloop/pkg/action"
)

func sampleTranscript() *Transcript {
	tr := New()
	tr.Append(Step{Reasoning: "look it up", Action: "search", Argument: action.Text("go"), Observation: "Go is a language", Kind: KindResult})
	tr.Append(Step{Action: "calculate", Argument: action.Text("2+2"), Observation: "4", Kind: KindResult})
	tr.Append(Step{Reasoning: "done", Action: action.Finish, Argument: action.Text("42"), Kind: KindFinal})
	return tr
}

func TestAppendAssignsSequence(t *testing.T) {
	tr := sampleTranscript()
	if tr.Len() != 3 {
		t.Fatalf("expected 3 steps, got %d", tr.Len())
	}
	for i, s := range tr.Steps() {
		if s.Seq != i+1 {
			t.Fatalf("step %d has seq %d", i, s.Seq)
		}
		if s.StartedAt.IsZero() {
			t.Fatalf("step %d has no timestamp", i)
		}
	}
	last, ok := tr.Last()
	if !ok || !last.IsTerminal() || last.HasObservation() {
		t.Fatalf("unexpected last step %+v", last)
	}
}

func TestStepsReturnsCopy(t *testing.T) {
	tr := sampleTranscript()
	steps := tr.Steps()
	steps[0].Action = "mutated"
	if got := tr.Steps()[0].Action; got != "search" {
		t.Fatalf("transcript was mutated through Steps(): %q", got)
	}
}

func TestRenderWindow(t *testing.T) {
	tr := sampleTranscript()

	all := slices.Collect(tr.Render(0))
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if !strings.HasPrefix(all[0], "Thought: look it up\nAction: search\nAction Input: go\nObservation: Go is a language") {
		t.Fatalf("unexpected entry %q", all[0])
	}
	if strings.Contains(all[1], "Thought:") {
		t.Fatalf("empty reasoning must not render a Thought line: %q", all[1])
	}
	if strings.Contains(all[2], "Observation:") {
		t.Fatalf("final step must not render an observation: %q", all[2])
	}

	last := slices.Collect(tr.Render(2))
	if len(last) != 2 || !strings.Contains(last[0], "calculate") {
		t.Fatalf("unexpected window %v", last)
	}
}

func TestRenderIsRestartableSnapshot(t *testing.T) {
	tr := sampleTranscript()
	seq := tr.Render(0)
	first := slices.Collect(seq)
	tr.Append(Step{Action: "extra", Argument: action.Text("x"), Observation: "y", Kind: KindResult})
	second := slices.Collect(seq)
	if !slices.Equal(first, second) {
		t.Fatalf("render sequence changed after append")
	}

	count := 0
	for range tr.Render(0) {
		count++
		break
	}
	if count != 1 {
		t.Fatalf("early break must stop iteration")
	}
}

func TestView(t *testing.T) {
	tr := sampleTranscript()
	view := tr.View(1)
	if view.Len() != 1 || view.Total != 3 || view.Omitted() != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	if !strings.Contains(view.String(), "Action: finish") {
		t.Fatalf("unexpected view rendering %q", view.String())
	}
	full := tr.View(0)
	if strings.Count(full.String(), "\n\n") != 2 {
		t.Fatalf("expected entries separated by blank lines: %q", full.String())
	}
}

func TestLastNActions(t *testing.T) {
	tr := New()
	tr.Append(Step{Action: "search", Argument: action.Text("a")})
	tr.Append(Step{Action: "search", Argument: action.Text("b")})
	tr.Append(Step{Action: "lookup", Argument: action.Fields(map[string]any{"id": 1})})

	got := tr.LastNActions(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(got))
	}
	if got[0] != (ActionKey{Action: "search", Key: action.Text("b").Key()}) {
		t.Fatalf("unexpected first pair %+v", got[0])
	}
	if got[1].Action != "lookup" {
		t.Fatalf("unexpected last pair %+v", got[1])
	}
	if len(tr.LastNActions(10)) != 3 {
		t.Fatalf("expected n larger than length to return all pairs")
	}
	if tr.LastNActions(0) != nil {
		t.Fatalf("expected nil for n=0")
	}
}

func TestFormatPlanStep(t *testing.T) {
	got := Format(Step{NodeID: "E2", Action: "search", Argument: action.Text("x"), Observation: "upstream E1 failed", Kind: KindSkipped})
	want := "#E2 = Action: search\nAction Input: x\nObservation: (skipped) upstream E1 failed"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
