package planner

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func auditFixture() []AuditEvent {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []AuditEvent{
		{PlanID: "p1", RunID: "r1", NodeID: "search", Action: "web.search", Status: StatusStarted, StartedAt: start},
		{PlanID: "p1", RunID: "r1", NodeID: "search", Action: "web.search", Status: StatusCompleted,
			Observation: "3 results", StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)},
		{PlanID: "p1", RunID: "r1", NodeID: "summarize", Action: "llm.summarize", Status: StatusSkipped,
			Error: "dependency search failed"},
		{PlanID: "p2", RunID: "r2", NodeID: "fetch", Action: "http.get", Status: StatusFailed,
			Error: "timeout", StartedAt: start, FinishedAt: start.Add(time.Second)},
	}
}

func exerciseAuditStore(t *testing.T, store AuditStore) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range auditFixture() {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter AuditFilter
		nodes  []string
	}{
		{"all", AuditFilter{}, []string{"search", "search", "summarize", "fetch"}},
		{"by run", AuditFilter{RunID: "r1"}, []string{"search", "search", "summarize"}},
		{"by status", AuditFilter{Status: StatusFailed}, []string{"fetch"}},
		{"by plan and node", AuditFilter{PlanID: "p1", NodeID: "summarize"}, []string{"summarize"}},
		{"limit", AuditFilter{RunID: "r1", Limit: 2}, []string{"search", "search"}},
		{"no match", AuditFilter{RunID: "missing"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tc.nodes) {
				t.Fatalf("expected %d events, got %d: %+v", len(tc.nodes), len(got), got)
			}
			for i, ev := range got {
				if ev.NodeID != tc.nodes[i] {
					t.Fatalf("event %d: expected node %s, got %s", i, tc.nodes[i], ev.NodeID)
				}
			}
		})
	}

	done, _ := store.List(ctx, AuditFilter{Status: StatusCompleted})
	if len(done) != 1 || done[0].Observation != "3 results" {
		t.Fatalf("unexpected completed events %+v", done)
	}
	if d := done[0].Duration(); d != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s duration, got %v", d)
	}
	skipped, _ := store.List(ctx, AuditFilter{Status: StatusSkipped})
	if len(skipped) != 1 || skipped[0].Error == "" || !skipped[0].StartedAt.IsZero() {
		t.Fatalf("unexpected skipped events %+v", skipped)
	}
}

func TestMemoryAuditStore(t *testing.T) {
	exerciseAuditStore(t, NewMemoryAuditStore())
}

func TestSQLiteAuditStore(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	exerciseAuditStore(t, store)

	if _, err := NewSQLiteAuditStore(db); err != nil {
		t.Fatalf("schema creation must be idempotent: %v", err)
	}
	if _, err := NewSQLiteAuditStore(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
