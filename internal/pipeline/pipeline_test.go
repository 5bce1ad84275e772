package pipeline

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/activelearn/internal/checkpoint"
	"github.com/danielpatrickdp/activelearn/internal/config"
	"github.com/danielpatrickdp/activelearn/internal/example"
)

// #region helpers
func loadFixture(t *testing.T, name string) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	return f
}

func runConfig(t *testing.T, cfg config.Config, lines []string) Summary {
	t.Helper()
	stack, err := config.Build(cfg, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum, err := Run(context.Background(), strings.NewReader(strings.Join(lines, "\n")), stack)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := stack.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return sum
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

// #endregion helpers

// #region fixture-tests
func TestFixtures(t *testing.T) {
	for _, name := range []string{"binary_simulation.json", "cs_simulation.json", "active_unlabeled.json"} {
		t.Run(name, func(t *testing.T) {
			f := loadFixture(t, name)
			sum, err := f.Replay(context.Background(), nil, nil)
			if err != nil {
				t.Fatalf("Replay: %v", err)
			}
			for _, msg := range f.Check(sum) {
				t.Error(msg)
			}
		})
	}
}

func TestLoadFixtureErrors(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "missing.json")); err == nil {
		t.Fatal("expected error for missing fixture")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCheckReportsMismatches(t *testing.T) {
	f := loadFixture(t, "binary_simulation.json")
	msgs := f.Check(Summary{Examples: 5, Queries: 3})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 mismatches, got %v", msgs)
	}
}

// #endregion fixture-tests

// #region run-tests
func TestRunMalformedLineAborts(t *testing.T) {
	f := loadFixture(t, "binary_simulation.json")
	stack, err := config.Build(f.Config.ToConfig(), nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer stack.Close()

	_, err = Run(context.Background(), strings.NewReader("abc | x:1\n1 | y"), stack)
	if !errors.Is(err, example.ErrMalformedLabel) {
		t.Fatalf("expected ErrMalformedLabel, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line number in %q", err)
	}
}

func TestRunSkipsBlankLines(t *testing.T) {
	f := loadFixture(t, "binary_simulation.json")
	lines := append([]string{"", "   "}, f.Examples...)
	sum := runConfig(t, f.Config.ToConfig(), append(lines, ""))
	if sum.Examples != 6 {
		t.Fatalf("expected 6 examples, got %d", sum.Examples)
	}
}

func TestRunCancelledContext(t *testing.T) {
	f := loadFixture(t, "binary_simulation.json")
	stack, err := config.Build(f.Config.ToConfig(), nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer stack.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := Run(ctx, strings.NewReader(strings.Join(f.Examples, "\n")), stack)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sum.Examples != 0 {
		t.Fatalf("expected no processed examples, got %d", sum.Examples)
	}
}

func TestRunTestOnlyCountsHoldout(t *testing.T) {
	f := loadFixture(t, "binary_simulation.json")
	cfg := f.Config.ToConfig()
	cfg.IO.TestOnly = true
	sum := runConfig(t, cfg, f.Examples)
	if sum.HoldoutExamples != 6 || sum.Examples != 0 {
		t.Fatalf("expected 6 holdout and 0 training examples, got %d and %d", sum.HoldoutExamples, sum.Examples)
	}
	if sum.Queries != 0 {
		t.Fatalf("test-only examples must not query, got %d", sum.Queries)
	}
}

func TestRunImportanceWeightSummary(t *testing.T) {
	f := loadFixture(t, "binary_simulation.json")
	sum := runConfig(t, f.Config.ToConfig(), f.Examples)
	if sum.WeightMean != 1 || sum.WeightStdDev != 0 {
		t.Fatalf("expected unit weights, got mean %f std %f", sum.WeightMean, sum.WeightStdDev)
	}
	if sum.WeightedExamples != 6 {
		t.Fatalf("expected weighted examples 6, got %f", sum.WeightedExamples)
	}
}

// #endregion run-tests

// #region output-tests
func TestRunWritesOnePredictionPerExample(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"binary_simulation.json", "cs_simulation.json"} {
		f := loadFixture(t, name)
		cfg := f.Config.ToConfig()
		cfg.IO.Predictions = filepath.Join(dir, name+".preds")
		cfg.IO.Raw = filepath.Join(dir, name+".raw")
		runConfig(t, cfg, f.Examples)

		if n := countLines(t, cfg.IO.Predictions); n != len(f.Examples) {
			t.Errorf("%s: expected %d prediction lines, got %d", name, len(f.Examples), n)
		}
		if n := countLines(t, cfg.IO.Raw); n != len(f.Examples) {
			t.Errorf("%s: expected %d raw lines, got %d", name, len(f.Examples), n)
		}
	}
}

func TestRunLogsDecisions(t *testing.T) {
	f := loadFixture(t, "binary_simulation.json")
	cfg := f.Config.ToConfig()
	cfg.IO.DecisionLog = filepath.Join(t.TempDir(), "decisions.db")
	runConfig(t, cfg, f.Examples)

	db, err := sql.Open("sqlite", cfg.IO.DecisionLog)
	if err != nil {
		t.Fatalf("open decision log: %v", err)
	}
	defer db.Close()

	var total, queried int
	if err := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(queried), 0) FROM query_log`).Scan(&total, &queried); err != nil {
		t.Fatalf("count decisions: %v", err)
	}
	if total != 2 || queried != 2 {
		t.Fatalf("expected 2 queried decisions, got %d of %d", queried, total)
	}
}

func TestRunWritesVersionedCheckpoints(t *testing.T) {
	f := loadFixture(t, "binary_simulation.json")
	cfg := f.Config.ToConfig()
	minLabels := uint64(1)
	cfg.Active.MinLabels = &minLabels
	cfg.IO.CheckpointDB = filepath.Join(t.TempDir(), "checkpoints.db")
	runConfig(t, cfg, f.Examples)

	store, err := checkpoint.NewStore(cfg.IO.CheckpointDB)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	records, err := store.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(records))
	}
	if records[0].Name != "model.2.2.0.2" || records[1].Name != "model.1.1.0.1" {
		t.Fatalf("unexpected checkpoint names %q, %q", records[0].Name, records[1].Name)
	}
	if records[0].ParentID != records[1].VersionID {
		t.Fatal("expected the newer checkpoint to chain to the older one")
	}
	if len(records[0].Model) == 0 || records[0].MetricsJSON == "" {
		t.Fatal("expected model bytes and metrics")
	}
}

// #endregion output-tests
