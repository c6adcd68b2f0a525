// SPDX-License-Identifier: Apache-2.0
package transcript

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jllopis/reactloop/pkg/errors"
)

// Record is an archived run.
type Record struct {
	RunID      string    `json:"run_id"`
	TaskID     string    `json:"task_id"`
	Objective  string    `json:"objective"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Answer     string    `json:"answer,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Steps      []Step    `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Filter limits archive queries.
type Filter struct {
	Status string
	Since  time.Time
	Limit  int
}

// Archive persists finished transcripts for audit.
type Archive interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, runID string) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
}

func notFound(runID string) error {
	return errors.Newf(errors.CodeInvalidInput, "transcript %q not found", runID).
		WithContext("run_id", runID)
}

// MemoryArchive keeps records in memory.
type MemoryArchive struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryArchive returns an in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{records: make(map[string]Record)}
}

// Save stores or replaces a record.
func (a *MemoryArchive) Save(_ context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New(errors.CodeInvalidInput, "run id is required", nil)
	}
	rec.Steps = slices.Clone(rec.Steps)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[rec.RunID] = rec
	return nil
}

// Get returns the record for runID.
func (a *MemoryArchive) Get(_ context.Context, runID string) (Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[runID]
	if !ok {
		return Record{}, notFound(runID)
	}
	rec.Steps = slices.Clone(rec.Steps)
	return rec, nil
}

// List returns matching records, newest first.
func (a *MemoryArchive) List(_ context.Context, filter Filter) ([]Record, error) {
	a.mu.Lock()
	out := make([]Record, 0, len(a.records))
	for _, rec := range a.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && rec.StartedAt.Before(filter.Since) {
			continue
		}
		rec.Steps = slices.Clone(rec.Steps)
		out = append(out, rec)
	}
	a.mu.Unlock()

	slices.SortFunc(out, func(x, y Record) int {
		if c := y.StartedAt.Compare(x.StartedAt); c != 0 {
			return c
		}
		if x.RunID < y.RunID {
			return -1
		}
		if x.RunID > y.RunID {
			return 1
		}
		return 0
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
