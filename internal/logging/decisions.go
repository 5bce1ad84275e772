package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const decisionSchema = `
CREATE TABLE IF NOT EXISTS query_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	example_number REAL NOT NULL,
	class_index    INTEGER NOT NULL,
	mode           TEXT NOT NULL,
	confidence     REAL,
	importance     REAL NOT NULL,
	queried        INTEGER NOT NULL,
	reason         TEXT,
	created_at     TEXT NOT NULL
);
`

// EnsureSchema creates the query_log table if needed.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(decisionSchema); err != nil {
		return fmt.Errorf("migrate query_log: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-decision
// LogDecision writes a decision entry to the query_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	queried := 0
	if entry.Queried {
		queried = 1
	}
	_, err := db.Exec(
		`INSERT INTO query_log (run_id, example_number, class_index, mode, confidence, importance, queried, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.ExampleNumber,
		entry.ClassIndex,
		entry.Mode,
		entry.Confidence,
		entry.Importance,
		queried,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region sql-recorder
// SQLRecorder is a Recorder that writes every decision under one run ID.
type SQLRecorder struct {
	db    *sql.DB
	runID string
}

var _ Recorder = (*SQLRecorder)(nil)

// NewSQLRecorder migrates the query_log table and returns a recorder.
func NewSQLRecorder(db *sql.DB, runID string) (*SQLRecorder, error) {
	if err := EnsureSchema(db); err != nil {
		return nil, err
	}
	return &SQLRecorder{db: db, runID: runID}, nil
}

// RecordDecision stamps the run ID and logs the entry.
func (r *SQLRecorder) RecordDecision(entry DecisionEntry) error {
	entry.RunID = r.runID
	return LogDecision(r.db, entry)
}

// CountQueried returns how many queried decisions the run has logged.
func (r *SQLRecorder) CountQueried() (int, error) {
	var n int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM query_log WHERE run_id = ? AND queried = 1`, r.runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queried: %w", err)
	}
	return n, nil
}

// #endregion sql-recorder

// #region run-summary
// RunSummary aggregates the decisions logged by one run.
type RunSummary struct {
	RunID     string
	Mode      string
	Decisions int
	Queried   int
	// MeanImportance averages the importance weight of queried decisions;
	// zero when nothing was queried.
	MeanImportance float64
}

// SummarizeRuns returns one summary per run and mode, oldest run first.
func SummarizeRuns(db *sql.DB) ([]RunSummary, error) {
	rows, err := db.Query(
		`SELECT run_id, mode, COUNT(*), SUM(queried),
		        AVG(CASE WHEN queried = 1 THEN importance END)
		 FROM query_log GROUP BY run_id, mode ORDER BY MIN(id)`,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var mean sql.NullFloat64
		if err := rows.Scan(&rs.RunID, &rs.Mode, &rs.Decisions, &rs.Queried, &mean); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		rs.MeanImportance = mean.Float64
		out = append(out, rs)
	}
	return out, rows.Err()
}

// #endregion run-summary

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
