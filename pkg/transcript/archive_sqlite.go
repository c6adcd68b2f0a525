// SPDX-License-Identifier: Apache-2.0
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/jllopis/reactloop/pkg/errors"

	_ "modernc.org/sqlite"
)

// SQLiteArchive persists transcripts in SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive creates a SQLite-backed archive and ensures schema.
func NewSQLiteArchive(db *sql.DB) (*SQLiteArchive, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureArchiveSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteArchive{db: db}, nil
}

// OpenSQLiteArchive opens the database at path and prepares the archive.
func OpenSQLiteArchive(path string) (*SQLiteArchive, func() error, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, err
	}
	archive, err := NewSQLiteArchive(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return archive, db.Close, nil
}

// Save stores or replaces a record.
func (a *SQLiteArchive) Save(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New(errors.CodeInvalidInput, "run id is required", nil)
	}
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transcripts (
			run_id, task_id, objective, mode, status, answer, reason, steps_json, step_count, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID,
		rec.TaskID,
		rec.Objective,
		rec.Mode,
		rec.Status,
		rec.Answer,
		rec.Reason,
		string(steps),
		len(rec.Steps),
		normalizeTime(rec.StartedAt),
		normalizeTime(rec.FinishedAt),
	)
	return err
}

const selectRecord = `
	SELECT run_id, task_id, objective, mode, status, answer, reason, steps_json, started_at, finished_at
	FROM transcripts
`

// Get returns the record for runID.
func (a *SQLiteArchive) Get(ctx context.Context, runID string) (Record, error) {
	row := a.db.QueryRowContext(ctx, selectRecord+" WHERE run_id = ?", runID)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(runID)
	}
	return rec, err
}

// List returns matching records, newest first.
func (a *SQLiteArchive) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := selectRecord
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		addFilter("started_at >= ?", normalizeTime(filter.Since))
	}
	query += where + " ORDER BY started_at DESC, run_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec       Record
		stepsJSON string
		started   sql.NullTime
		finished  sql.NullTime
	)
	if err := s.Scan(
		&rec.RunID,
		&rec.TaskID,
		&rec.Objective,
		&rec.Mode,
		&rec.Status,
		&rec.Answer,
		&rec.Reason,
		&stepsJSON,
		&started,
		&finished,
	); err != nil {
		return Record{}, err
	}
	if stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
			return Record{}, errors.New(errors.CodeInternal, "decode archived steps", err).
				WithContext("run_id", rec.RunID)
		}
	}
	if started.Valid {
		rec.StartedAt = started.Time
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return rec, nil
}

func ensureArchiveSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			run_id TEXT PRIMARY KEY,
			task_id TEXT,
			objective TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			answer TEXT,
			reason TEXT,
			steps_json TEXT NOT NULL,
			step_count INTEGER NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_status ON transcripts(status);
		CREATE INDEX IF NOT EXISTS idx_transcripts_started ON transcripts(started_at);
	`)
	return err
}

// normalizeTime ensures timestamps are stored in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
