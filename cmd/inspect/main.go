package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/activelearn/internal/checkpoint"
	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to a checkpoint store")
	decisions := flag.String("decisions", "", "path to a query-decision log")
	last := flag.Int("last", 20, "show N most recent checkpoints")
	version := flag.String("version", "", "show single checkpoint detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" && *decisions == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect [--db checkpoints.db [--last N] [--version id]] [--decisions decisions.db] [--json]")
		os.Exit(2)
	}

	if *dbPath != "" {
		if err := inspectStore(os.Stdout, *dbPath, *last, *version, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	if *decisions != "" {
		if err := inspectDecisions(os.Stdout, *decisions, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func inspectStore(w io.Writer, path string, last int, version string, jsonOut bool) error {
	store, err := checkpoint.NewStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	if version != "" {
		return runDetailMode(w, store, version, jsonOut)
	}
	return runListMode(w, store, last, jsonOut)
}

// #endregion main

// #region list-mode

type listRow struct {
	VersionID  string `json:"version_id"`
	Name       string `json:"name"`
	ModelBytes int    `json:"model_bytes"`
	Queries    uint64 `json:"queries"`
	Examples   uint64 `json:"examples"`
	CreatedAt  string `json:"created_at"`
}

func runListMode(w io.Writer, store *checkpoint.Store, last int, jsonOut bool) error {
	records, err := store.List(last)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "no checkpoints found")
		return nil
	}

	// Store returns newest first; print chronologically.
	rows := make([]listRow, len(records))
	for i, rec := range records {
		st := parseMetrics(rec.MetricsJSON)
		rows[len(records)-1-i] = listRow{
			VersionID:  rec.VersionID,
			Name:       rec.Name,
			ModelBytes: len(rec.Model),
			Queries:    st.Queries,
			Examples:   st.ExampleNumber,
			CreatedAt:  rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(w, rows)
	}
	fmt.Fprintf(w, "%-10s  %-28s  %10s  %8s  %8s  %s\n", "Version", "Name", "Bytes", "Queries", "Examples", "Time")
	for _, r := range rows {
		fmt.Fprintf(w, "%-10s  %-28s  %10d  %8d  %8d  %s\n",
			shortID(r.VersionID), r.Name, r.ModelBytes, r.Queries, r.Examples, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	VersionID  string         `json:"version_id"`
	ParentID   string         `json:"parent_id"`
	Name       string         `json:"name"`
	CreatedAt  string         `json:"created_at"`
	ModelBytes int            `json:"model_bytes"`
	Stats      *stats.Running `json:"stats,omitempty"`
}

func runDetailMode(w io.Writer, store *checkpoint.Store, versionID string, jsonOut bool) error {
	rec, err := store.Get(versionID)
	if err != nil {
		return err
	}
	out := detailOutput{
		VersionID:  rec.VersionID,
		ParentID:   rec.ParentID,
		Name:       rec.Name,
		CreatedAt:  rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
		ModelBytes: len(rec.Model),
	}
	if rec.MetricsJSON != "" {
		st := parseMetrics(rec.MetricsJSON)
		out.Stats = &st
	}
	if jsonOut {
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Version:  %s\n", out.VersionID)
	fmt.Fprintf(w, "Parent:   %s\n", out.ParentID)
	fmt.Fprintf(w, "Name:     %s\n", out.Name)
	fmt.Fprintf(w, "Created:  %s\n", out.CreatedAt)
	fmt.Fprintf(w, "Bytes:    %d\n", out.ModelBytes)
	if st := out.Stats; st != nil {
		fmt.Fprintf(w, "\nAt checkpoint:\n")
		fmt.Fprintf(w, "  examples          %d\n", st.ExampleNumber)
		fmt.Fprintf(w, "  queries           %d\n", st.Queries)
		fmt.Fprintf(w, "  in disagreement   %d\n", st.NInDis)
		fmt.Fprintf(w, "  average loss      %.6f\n", st.AverageLoss())
		if len(st.ExamplesByQueries) > 0 {
			fmt.Fprintf(w, "  examples by queries %v\n", st.ExamplesByQueries)
		}
	}
	return nil
}

// #endregion detail-mode

// #region decisions

func inspectDecisions(w io.Writer, path string, jsonOut bool) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open decision log: %w", err)
	}
	defer db.Close()

	runs, err := logging.SummarizeRuns(db)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, runs)
	}
	fmt.Fprintf(w, "%-10s  %-14s  %9s  %8s  %s\n", "Run", "Mode", "Decisions", "Queried", "Mean Importance")
	for _, r := range runs {
		fmt.Fprintf(w, "%-10s  %-14s  %9d  %8d  %.4f\n", shortID(r.RunID), r.Mode, r.Decisions, r.Queried, r.MeanImportance)
	}
	return nil
}

// #endregion decisions

// #region output

func parseMetrics(metricsJSON string) stats.Running {
	var st stats.Running
	if metricsJSON != "" {
		json.Unmarshal([]byte(metricsJSON), &st)
	}
	return st
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
