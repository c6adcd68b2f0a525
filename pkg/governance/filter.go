// SPDX-License-Identifier: Apache-2.0

// Package governance decides which actions a deployment may expose to the
// oracle. Patterns use path.Match globs, so "fs.*" covers every tool of an
// MCP server registered with the "fs." prefix.
package governance

import (
	"path"
	"strings"
)

// DecisionStatus captures the filter outcome.
type DecisionStatus string

const (
	DecisionStatusAllow DecisionStatus = "allow"
	DecisionStatusDeny  DecisionStatus = "deny"
)

// Decision is the outcome of evaluating one action name.
type Decision struct {
	Status DecisionStatus
	Reason string
	// Pattern is the rule that decided, empty for the default.
	Pattern string
}

// IsAllowed reports whether the decision permits the action.
func (d Decision) IsAllowed() bool {
	return d.Status == DecisionStatusAllow
}

// ActionFilter allows or denies actions by name.
type ActionFilter struct {
	allowlist []string
	denylist  []string
}

// FilterOption configures an ActionFilter.
type FilterOption func(*ActionFilter)

// NewActionFilter creates a filter. Without options every action is allowed.
func NewActionFilter(opts ...FilterOption) *ActionFilter {
	f := &ActionFilter{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithAllowlist restricts actions to the names matching patterns.
func WithAllowlist(patterns []string) FilterOption {
	return func(f *ActionFilter) {
		f.allowlist = appendPatterns(f.allowlist, patterns)
	}
}

// WithDenylist forbids the names matching patterns.
func WithDenylist(patterns []string) FilterOption {
	return func(f *ActionFilter) {
		f.denylist = appendPatterns(f.denylist, patterns)
	}
}

func appendPatterns(dst, patterns []string) []string {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			dst = append(dst, p)
		}
	}
	return dst
}

// Evaluate decides for name. A deny match wins over an allow match; with a
// non-empty allowlist, names outside it are denied.
func (f *ActionFilter) Evaluate(name string) Decision {
	if p, ok := match(name, f.denylist); ok {
		return Decision{Status: DecisionStatusDeny, Reason: "action is in denylist", Pattern: p}
	}
	if len(f.allowlist) == 0 {
		return Decision{Status: DecisionStatusAllow}
	}
	if p, ok := match(name, f.allowlist); ok {
		return Decision{Status: DecisionStatusAllow, Pattern: p}
	}
	return Decision{Status: DecisionStatusDeny, Reason: "action is not in allowlist"}
}

// Allows is Evaluate reduced to a bool. A nil filter allows everything.
func (f *ActionFilter) Allows(name string) bool {
	if f == nil {
		return true
	}
	return f.Evaluate(name).IsAllowed()
}

// Filter returns the names that pass, in input order.
func (f *ActionFilter) Filter(names []string) []string {
	if f == nil || (len(f.allowlist) == 0 && len(f.denylist) == 0) {
		return names
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if f.Allows(name) {
			out = append(out, name)
		}
	}
	return out
}

// Empty reports whether the filter has no rules.
func (f *ActionFilter) Empty() bool {
	return f == nil || (len(f.allowlist) == 0 && len(f.denylist) == 0)
}

func match(name string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if p == name {
			return p, true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return p, true
		}
	}
	return "", false
}
