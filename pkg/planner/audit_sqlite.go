// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jllopis/reactloop/pkg/errors"

	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS plan_node_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id     TEXT NOT NULL,
	run_id      TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	status      TEXT NOT NULL,
	observation TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS plan_node_events_run ON plan_node_events(run_id, plan_id);
CREATE INDEX IF NOT EXISTS plan_node_events_status ON plan_node_events(status);
`

// SQLiteAuditStore keeps node events in the plan_node_events table. It
// shares its database with the transcript archive.
type SQLiteAuditStore struct {
	db *sql.DB
}

func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "audit store needs a database", nil)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, errors.New(errors.CodeInternal, "create audit schema", err)
	}
	return &SQLiteAuditStore{db: db}, nil
}

func (s *SQLiteAuditStore) Record(ctx context.Context, ev AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_node_events
		 (plan_id, run_id, node_id, action, status, observation, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.PlanID, ev.RunID, ev.NodeID, ev.Action, string(ev.Status),
		ev.Observation, ev.Error, nullTime(ev.StartedAt), nullTime(ev.FinishedAt),
	)
	return err
}

func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(`SELECT plan_id, run_id, node_id, action, status, observation, error, started_at, finished_at
		FROM plan_node_events`)
	for i, c := range filter.conditions() {
		if i == 0 {
			q.WriteString(" WHERE ")
		} else {
			q.WriteString(" AND ")
		}
		q.WriteString(c.column + " = ?")
		args = append(args, c.value)
	}
	q.WriteString(" ORDER BY seq")
	if filter.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			ev                AuditEvent
			started, finished sql.NullTime
		)
		if err := rows.Scan(&ev.PlanID, &ev.RunID, &ev.NodeID, &ev.Action, &ev.Status,
			&ev.Observation, &ev.Error, &started, &finished); err != nil {
			return nil, err
		}
		ev.StartedAt = started.Time
		ev.FinishedAt = finished.Time
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
