package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the query_log table: one label-query
// decision for one example (and, in multiclass mode, one class).
type DecisionEntry struct {
	RunID         string
	ExampleNumber float64
	ClassIndex    uint32 // 0 for binary decisions
	Mode          string // "simulation" | "active" | "cs_simulation" | "cs_active"
	Confidence    float64
	Importance    float64 // 1/bias when queried, -1 otherwise
	Queried       bool
	Reason        string
	CreatedAt     time.Time
}

// #endregion decision-entry

// #region recorder
// Recorder receives query decisions as they are made.
type Recorder interface {
	RecordDecision(entry DecisionEntry) error
}

// #endregion recorder
