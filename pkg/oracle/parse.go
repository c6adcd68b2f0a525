// SPDX-License-Identifier: Apache-2.0
package oracle

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/planner"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\n(.*?)```")
	callForm    = regexp.MustCompile(`(?s)^([A-Za-z0-9_.:-]+)\s*(?:\[(.*)\]|\((.*)\))$`)
)

// stripFences returns the content of the first fenced code block when it
// holds JSON, and otherwise the text with fence markers removed.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
			return inner
		}
		s = strings.Replace(s, m[0], m[1], 1)
	}
	return strings.TrimSpace(s)
}

// ParseDecision parses oracle output in either grammar:
//
//	{"thought": "...", "action": "search", "action_input": {"q": "go"}}
//
// or
//
//	Thought: ...
//	Action: search
//	Action Input: go
//
// "Final Answer: x" maps to the finish action with argument x.
func ParseDecision(raw string) (Decision, error) {
	body := stripFences(raw)
	if body == "" {
		return Decision{Raw: raw}, MalformedDecision(raw, "empty oracle output")
	}

	var d Decision
	if obj, ok := decodeObject(body); ok {
		d = decisionFromObject(obj)
	} else {
		d = parseTextDecision(body)
	}
	d.Raw = raw
	if d.Action == "" {
		return d, MalformedDecision(raw, "oracle output has no action")
	}
	return d, nil
}

// decodeObject decodes a JSON object, repairing it when needed.
func decodeObject(body string) (map[string]any, bool) {
	if !strings.HasPrefix(body, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil {
		return obj, true
	}
	repaired, err := jsonrepair.JSONRepair(body)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func decisionFromObject(obj map[string]any) Decision {
	d := Decision{
		Reasoning: firstString(obj, "thought", "reasoning", "reason"),
	}

	var input any
	var hasInput bool
	if nested, ok := obj["action"].(map[string]any); ok {
		d.Action = firstString(nested, "name", "action", "tool")
		input, hasInput = firstValue(nested, "input", "action_input", "argument", "arguments", "args")
	} else {
		d.Action = firstString(obj, "action", "tool", "name")
	}
	if !hasInput {
		input, hasInput = firstValue(obj, "action_input", "input", "argument", "arguments", "args")
	}
	d.Action = normalizeActionName(d.Action)

	if hasInput {
		if s, ok := input.(string); ok {
			d.Argument = action.ParseArgument(s)
		} else {
			d.Argument = action.ArgumentOf(input)
		}
	}
	if answer, ok := firstValue(obj, "final_answer", "answer"); ok && (d.Action == "" || d.Action == action.Finish) {
		d.Action = action.Finish
		if !hasInput {
			d.Argument = action.ArgumentOf(answer)
		}
	}
	if v, ok := obj["confidence"]; ok {
		d.Confidence = parseConfidence(v)
	}
	return d
}

type textField int

const (
	fieldNone textField = iota
	fieldThought
	fieldAction
	fieldInput
	fieldConfidence
	fieldFinal
)

// Longer prefixes first so "action input:" wins over "action:".
var textLabels = []struct {
	label string
	field textField
}{
	{"thought:", fieldThought},
	{"reasoning:", fieldThought},
	{"action input:", fieldInput},
	{"action_input:", fieldInput},
	{"action:", fieldAction},
	{"confidence:", fieldConfidence},
	{"final answer:", fieldFinal},
}

func labelOf(line string) (textField, string) {
	trimmed := strings.TrimLeft(line, " \t*-#>")
	lower := strings.ToLower(trimmed)
	for _, l := range textLabels {
		if strings.HasPrefix(lower, l.label) {
			rest := strings.TrimLeft(trimmed[len(l.label):], "* \t")
			return l.field, rest
		}
	}
	if strings.HasPrefix(lower, "observation:") {
		return -1, ""
	}
	return fieldNone, line
}

// parseTextDecision reads the first step of the line grammar. A second
// Thought or Action, or an Observation line, ends the step.
func parseTextDecision(body string) Decision {
	values := map[textField]*strings.Builder{}
	var preamble strings.Builder
	current := fieldNone

	for _, line := range strings.Split(body, "\n") {
		field, rest := labelOf(line)
		if field < 0 {
			break
		}
		if field == fieldNone {
			target := &preamble
			if current != fieldNone {
				target = values[current]
			}
			if target.Len() > 0 {
				target.WriteString("\n")
			}
			target.WriteString(line)
			continue
		}
		if _, seen := values[field]; seen && (field == fieldThought || field == fieldAction) {
			break
		}
		b := &strings.Builder{}
		b.WriteString(rest)
		values[field] = b
		current = field
	}

	get := func(f textField) (string, bool) {
		b, ok := values[f]
		if !ok {
			return "", false
		}
		return strings.TrimSpace(b.String()), true
	}

	d := Decision{}
	if thought, ok := get(fieldThought); ok {
		d.Reasoning = thought
	} else {
		d.Reasoning = strings.TrimSpace(preamble.String())
	}

	name, _ := get(fieldAction)
	input, hasInput := get(fieldInput)
	if !hasInput {
		if m := callForm.FindStringSubmatch(name); m != nil {
			name = m[1]
			input = m[2] + m[3]
			hasInput = true
		}
	}
	d.Action = normalizeActionName(name)
	if hasInput {
		d.Argument = action.ParseArgument(input)
	}
	if final, ok := get(fieldFinal); ok && (d.Action == "" || d.Action == action.Finish) {
		d.Action = action.Finish
		if !hasInput || d.Argument.IsEmpty() {
			d.Argument = action.Text(final)
		}
	}
	if conf, ok := get(fieldConfidence); ok {
		d.Confidence = parseConfidence(conf)
	}
	return d
}

func normalizeActionName(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "`\"'*")
	switch strings.ToLower(name) {
	case "finish", "final answer", "final_answer":
		return action.Finish
	}
	return name
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstValue(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// parseConfidence accepts 0..1 floats, numeric strings and percentages.
func parseConfidence(v any) *float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case string:
		s := strings.TrimSpace(val)
		percent := strings.HasSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return nil
		}
		f = parsed
		if percent {
			f /= 100
		}
	default:
		return nil
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	if f < 0 || f > 1 {
		return nil
	}
	return &f
}

// ParsePlan parses plan output as JSON or YAML. It accepts a plan object,
// a {"plan": [...]} wrapper, or a bare list of nodes.
func ParsePlan(raw string) (*planner.Plan, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, planner.MalformedPlan("empty plan output")
	}
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		data := []byte(body)
		if !json.Valid(data) {
			if repaired, err := jsonrepair.JSONRepair(body); err == nil {
				data = []byte(repaired)
			}
		}
		return decodePlan(data, json.Unmarshal)
	}
	return decodePlan([]byte(body), yaml.Unmarshal)
}

type planDocument struct {
	ID    string         `json:"id" yaml:"id"`
	Nodes []planner.Node `json:"nodes" yaml:"nodes"`
	Plan  []planner.Node `json:"plan" yaml:"plan"`
	Steps []planner.Node `json:"steps" yaml:"steps"`
}

func decodePlan(data []byte, unmarshal func([]byte, any) error) (*planner.Plan, error) {
	var nodes []planner.Node
	if err := unmarshal(data, &nodes); err == nil && len(nodes) > 0 {
		plan := &planner.Plan{Nodes: nodes}
		if err := plan.Validate(); err != nil {
			return nil, err
		}
		return plan, nil
	}

	var doc planDocument
	if err := unmarshal(data, &doc); err != nil {
		return nil, errors.New(errors.CodeMalformedPlan, "parse plan output", err)
	}
	plan := &planner.Plan{ID: doc.ID, Nodes: doc.Nodes}
	switch {
	case len(plan.Nodes) > 0:
	case len(doc.Plan) > 0:
		plan.Nodes = doc.Plan
	default:
		plan.Nodes = doc.Steps
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
