// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"context"
	"slices"
	"sync"
	"time"
)

// AuditEvent is one lifecycle transition of a plan node. Completed nodes
// carry their observation, failed and skipped nodes the reason in Error.
type AuditEvent struct {
	PlanID      string     `json:"plan_id"`
	RunID       string     `json:"run_id"`
	NodeID      string     `json:"node_id"`
	Action      string     `json:"action"`
	Status      NodeStatus `json:"status"`
	Observation string     `json:"observation,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at,omitzero"`
}

// Duration is how long the node ran, or zero while it is running.
func (ev AuditEvent) Duration() time.Duration {
	if ev.StartedAt.IsZero() || ev.FinishedAt.IsZero() {
		return 0
	}
	return ev.FinishedAt.Sub(ev.StartedAt)
}

type AuditHook func(ctx context.Context, event AuditEvent)

// AuditStore persists node events so finished ReWOO runs can be inspected.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// AuditFilter selects events; zero fields match everything. Results keep
// recording order.
type AuditFilter struct {
	PlanID string
	RunID  string
	NodeID string
	Status NodeStatus
	Limit  int
}

// conditions pairs each set field with its column name.
func (f AuditFilter) conditions() []auditCondition {
	all := []auditCondition{
		{"plan_id", f.PlanID},
		{"run_id", f.RunID},
		{"node_id", f.NodeID},
		{"status", string(f.Status)},
	}
	return slices.DeleteFunc(all, func(c auditCondition) bool { return c.value == "" })
}

type auditCondition struct {
	column string
	value  string
}

func (f AuditFilter) match(ev AuditEvent) bool {
	fields := map[string]string{
		"plan_id": ev.PlanID,
		"run_id":  ev.RunID,
		"node_id": ev.NodeID,
		"status":  string(ev.Status),
	}
	for _, c := range f.conditions() {
		if fields[c.column] != c.value {
			return false
		}
	}
	return true
}

// MemoryAuditStore keeps events in process memory. Tests and runs without
// a database use it.
type MemoryAuditStore struct {
	mu     sync.RWMutex
	events []AuditEvent
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AuditEvent
	for _, ev := range s.events {
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
		if filter.match(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}
