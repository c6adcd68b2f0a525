// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"slices"
	"testing"
)

func TestActionFilter_Empty(t *testing.T) {
	filter := NewActionFilter()
	if !filter.Allows("anything") {
		t.Error("empty filter should allow all actions")
	}
	if !filter.Empty() {
		t.Error("expected empty filter")
	}

	var nilFilter *ActionFilter
	if !nilFilter.Allows("anything") {
		t.Error("nil filter should allow all actions")
	}
}

func TestActionFilter_Evaluate(t *testing.T) {
	filter := NewActionFilter(
		WithAllowlist([]string{"echo", "fs.*", " "}),
		WithDenylist([]string{"fs.write_*"}),
	)

	tests := []struct {
		name    string
		action  string
		allowed bool
		pattern string
	}{
		{"exact allow", "echo", true, "echo"},
		{"glob allow", "fs.read_file", true, "fs.*"},
		{"deny wins over allow", "fs.write_file", false, "fs.write_*"},
		{"outside allowlist", "clock", false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := filter.Evaluate(tc.action)
			if d.IsAllowed() != tc.allowed {
				t.Fatalf("action %q: expected allowed=%v, got %+v", tc.action, tc.allowed, d)
			}
			if d.Pattern != tc.pattern {
				t.Fatalf("action %q: expected pattern %q, got %q", tc.action, tc.pattern, d.Pattern)
			}
		})
	}
}

func TestActionFilter_DenylistOnly(t *testing.T) {
	filter := NewActionFilter(WithDenylist([]string{"clock"}))
	if filter.Allows("clock") {
		t.Error("clock should be denied")
	}
	if !filter.Allows("echo") {
		t.Error("echo should be allowed")
	}
}

func TestActionFilter_Filter(t *testing.T) {
	filter := NewActionFilter(WithDenylist([]string{"remote.*"}))
	got := filter.Filter([]string{"echo", "remote.search", "clock"})
	if !slices.Equal(got, []string{"echo", "clock"}) {
		t.Fatalf("unexpected filtered names %v", got)
	}
}
