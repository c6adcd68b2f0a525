// SPDX-License-Identifier: Apache-2.0
// Package planner implements the ReWOO execution mode: an upfront plan of
// actions arranged as a dependency graph, executed with bounded parallelism.
package planner

import (
	"regexp"
	"slices"
	"strings"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/errors"
)

// Plan is a directed acyclic graph of planned actions.
type Plan struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

// Node is one planned action. Arguments may reference the result of another
// node with an evidence variable such as "#E1"; a reference is an implicit
// dependency.
type Node struct {
	ID        string            `json:"id" yaml:"id"`
	Reasoning string            `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Action    string            `json:"action" yaml:"action"`
	Argument  action.Argument   `json:"argument" yaml:"argument"`
	DependsOn []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

var evidenceRef = regexp.MustCompile(`#([A-Za-z0-9_-]+)`)

// references returns the evidence variable ids named in the argument.
func (n Node) references() []string {
	var refs []string
	collectRefs(n.Argument.Text(), &refs)
	return refs
}

func collectRefs(s string, refs *[]string) {
	for _, m := range evidenceRef.FindAllStringSubmatch(s, -1) {
		if !slices.Contains(*refs, m[1]) {
			*refs = append(*refs, m[1])
		}
	}
}

// MalformedPlan builds a MALFORMED_PLAN error.
func MalformedPlan(format string, args ...any) *errors.Error {
	return errors.Newf(errors.CodeMalformedPlan, format, args...)
}

// Node returns the node with the given id.
func (p *Plan) Node(id string) (Node, bool) {
	if p == nil {
		return Node{}, false
	}
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Dependencies returns, per node id, the sorted union of declared
// dependencies and evidence references to other nodes of the plan.
func (p *Plan) Dependencies() map[string][]string {
	ids := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		ids[n.ID] = true
	}
	deps := make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		var out []string
		for _, d := range n.DependsOn {
			d = strings.TrimPrefix(strings.TrimSpace(d), "#")
			if !slices.Contains(out, d) {
				out = append(out, d)
			}
		}
		for _, ref := range n.references() {
			if ids[ref] && ref != n.ID && !slices.Contains(out, ref) {
				out = append(out, ref)
			}
		}
		slices.Sort(out)
		deps[n.ID] = out
	}
	return deps
}

// Validate checks that the plan is a well-formed DAG.
func (p *Plan) Validate() error {
	_, err := p.TopologicalOrder()
	return err
}

// TopologicalOrder validates the plan and returns node ids in dependency
// order, breaking ties by node id. Every failure is a MALFORMED_PLAN error.
func (p *Plan) TopologicalOrder() ([]string, error) {
	if p == nil {
		return nil, MalformedPlan("plan is nil")
	}
	if len(p.Nodes) == 0 {
		return nil, MalformedPlan("plan has no nodes")
	}

	seen := make(map[string]bool, len(p.Nodes))
	for i, n := range p.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return nil, MalformedPlan("node %d has no id", i)
		}
		if seen[n.ID] {
			return nil, MalformedPlan("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if strings.TrimSpace(n.Action) == "" {
			return nil, MalformedPlan("node %q has no action", n.ID)
		}
	}

	deps := p.Dependencies()
	indegree := make(map[string]int, len(p.Nodes))
	dependents := make(map[string][]string, len(p.Nodes))
	for id, ds := range deps {
		for _, d := range ds {
			if d == id {
				return nil, MalformedPlan("node %q depends on itself", id)
			}
			if !seen[d] {
				return nil, MalformedPlan("node %q depends on unknown node %q", id, d)
			}
			dependents[d] = append(dependents[d], id)
		}
		indegree[id] = len(ds)
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(p.Nodes))
	for len(ready) > 0 {
		slices.Sort(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(p.Nodes) {
		var cyclic []string
		for id, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		slices.Sort(cyclic)
		return nil, MalformedPlan("plan contains a cycle among nodes: %s", strings.Join(cyclic, ", ")).
			WithContext("nodes", cyclic)
	}
	return order, nil
}
