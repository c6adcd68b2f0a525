package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jllopis/reactloop/pkg/errors"
)

func TestParseJSON(t *testing.T) {
	payload := []byte(`{
  "id": "plan-json",
  "nodes": [
    { "id": "E1", "action": "search", "argument": "weather in Madrid" },
    { "id": "E2", "action": "summarize", "argument": {"text": "#E1"}, "depends_on": ["E1"] }
  ]
}`)
	plan, err := ParseJSON(payload)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if plan.ID != "plan-json" {
		t.Fatalf("unexpected plan id: %q", plan.ID)
	}
	n, ok := plan.Node("E2")
	if !ok || n.Argument.String("text") != "#E1" {
		t.Fatalf("unexpected node: %+v", n)
	}
}

func TestParseYAML(t *testing.T) {
	payload := []byte(`
id: plan-yaml
nodes:
  - id: E1
    action: search
    argument: weather in Madrid
  - id: E2
    action: calculate
    argument:
      expression: "#E1 * 2"
    depends_on: [E1]
`)
	plan, err := ParseYAML(payload)
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if plan.ID != "plan-yaml" {
		t.Fatalf("unexpected plan id: %q", plan.ID)
	}
	n, _ := plan.Node("E2")
	if n.Argument.String("expression") != "#E1 * 2" {
		t.Fatalf("unexpected argument: %q", n.Argument.Text())
	}
}

func TestParseRejectsCycle(t *testing.T) {
	payload := []byte(`{"nodes":[
		{"id":"A","action":"x","depends_on":["B"]},
		{"id":"B","action":"y","depends_on":["A"]}
	]}`)
	_, err := ParseJSON(payload)
	if !errors.HasCode(err, errors.CodeMalformedPlan) {
		t.Fatalf("expected malformed plan error, got %v", err)
	}
	if _, err := ParseJSON([]byte(`{not json`)); !errors.HasCode(err, errors.CodeMalformedPlan) {
		t.Fatalf("expected malformed plan error for bad json, got %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	plan := &Plan{
		ID: "plan-rt",
		Nodes: []Node{
			{ID: "n1", Action: "search", Argument: textArg("hello")},
			{ID: "n2", Action: "search", Argument: textArg("#n1 world"), DependsOn: []string{"n1"}},
		},
	}

	jsonPayload, err := MarshalJSON(plan, true)
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	parsedJSON, err := ParseJSON(jsonPayload)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if parsedJSON.ID != plan.ID || len(parsedJSON.Nodes) != 2 {
		t.Fatalf("json round-trip mismatch: %+v", parsedJSON)
	}

	yamlPayload, err := MarshalYAML(plan)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	parsedYAML, err := ParseYAML(yamlPayload)
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if n, _ := parsedYAML.Node("n2"); n.Argument.Text() != "#n1 world" {
		t.Fatalf("yaml round-trip mismatch: %q", n.Argument.Text())
	}
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(yamlPath, []byte("nodes:\n  - id: a\n    action: echo\n    argument: hi\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	plan, err := LoadPlan(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if len(plan.Nodes) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	autoPath := filepath.Join(dir, "plan.txt")
	if err := os.WriteFile(autoPath, []byte(`{"nodes":[{"id":"a","action":"echo"}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPlan(autoPath); err != nil {
		t.Fatalf("load auto: %v", err)
	}

	if _, err := LoadPlan(""); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for empty path, got %v", err)
	}
	if _, err := LoadPlan(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
