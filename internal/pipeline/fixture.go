package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/activelearn/internal/config"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a config,
// the example lines to feed through it, and the counters the run must hit.
type Fixture struct {
	Description string          `json:"description"`
	Config      FixtureConfig   `json:"config"`
	Examples    []string        `json:"examples"`
	Expected    FixtureExpected `json:"expected"`
}

// FixtureConfig carries the subset of config.Config a fixture may set.
type FixtureConfig struct {
	Seed     uint64                 `json:"seed"`
	Active   *FixtureActiveConfig   `json:"active,omitempty"`
	CSActive *FixtureCSActiveConfig `json:"cs_active,omitempty"`
	Learner  FixtureLearnerConfig   `json:"learner"`
}

// FixtureActiveConfig mirrors config.ActiveConfig with JSON tags.
type FixtureActiveConfig struct {
	Simulation      bool     `json:"simulation"`
	Mellowness      *float64 `json:"mellowness,omitempty"`
	Oracular        bool     `json:"oracular"`
	SimpleThreshold bool     `json:"simple_threshold"`
	MinLabels       *uint64  `json:"min_labels,omitempty"`
	MaxLabels       *uint64  `json:"max_labels,omitempty"`
}

// FixtureCSActiveConfig mirrors config.CSActiveConfig with JSON tags.
type FixtureCSActiveConfig struct {
	Classes    uint32   `json:"classes"`
	Simulation bool     `json:"simulation"`
	Baseline   bool     `json:"baseline"`
	Mellowness *float64 `json:"mellowness,omitempty"`
	RangeC     *float64 `json:"range_c,omitempty"`
	CostMin    *float64 `json:"cost_min,omitempty"`
	CostMax    *float64 `json:"cost_max,omitempty"`
	MinLabels  *uint64  `json:"min_labels,omitempty"`
	MaxLabels  *uint64  `json:"max_labels,omitempty"`
}

// FixtureLearnerConfig mirrors config.LearnerConfig with JSON tags.
type FixtureLearnerConfig struct {
	Bits         uint     `json:"bits"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
}

// FixtureExpected lists the counters checked after replay. Nil fields are
// not checked.
type FixtureExpected struct {
	Examples   *uint64 `json:"examples,omitempty"`
	Queries    *uint64 `json:"queries,omitempty"`
	MaxQueries *uint64 `json:"max_queries,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToConfig converts a FixtureConfig to a run config with all outputs off.
func (fc *FixtureConfig) ToConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Seed = fc.Seed
	cfg.IO.Quiet = true
	if fc.Learner.Bits != 0 {
		cfg.Learner.Bits = fc.Learner.Bits
	}
	setFloat(&cfg.Learner.LearningRate, fc.Learner.LearningRate)

	if a := fc.Active; a != nil {
		cfg.Active.Enabled = true
		cfg.Active.Simulation = a.Simulation
		cfg.Active.Oracular = a.Oracular
		cfg.Active.SimpleThreshold = a.SimpleThreshold
		cfg.Active.MinLabels = a.MinLabels
		cfg.Active.MaxLabels = a.MaxLabels
		setFloat(&cfg.Active.Mellowness, a.Mellowness)
	}
	if cs := fc.CSActive; cs != nil {
		cfg.CSActive.Classes = cs.Classes
		cfg.CSActive.Simulation = cs.Simulation
		cfg.CSActive.Baseline = cs.Baseline
		cfg.CSActive.MinLabels = cs.MinLabels
		cfg.CSActive.MaxLabels = cs.MaxLabels
		setFloat(&cfg.CSActive.Mellowness, cs.Mellowness)
		setFloat(&cfg.CSActive.RangeC, cs.RangeC)
		setFloat(&cfg.CSActive.CostMin, cs.CostMin)
		setFloat(&cfg.CSActive.CostMax, cs.CostMax)
	}
	return cfg
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// #endregion fixture-loader

// #region fixture-replay

// Replay builds the fixture's stack and runs its examples. progress receives
// the progress table when non-nil.
func (f *Fixture) Replay(ctx context.Context, logger *zap.Logger, progress io.Writer) (Summary, error) {
	cfg := f.Config.ToConfig()
	if progress != nil {
		cfg.IO.Quiet = false
	}
	stack, err := config.Build(cfg, logger, progress)
	if err != nil {
		return Summary{}, err
	}
	defer stack.Close()
	return Run(ctx, strings.NewReader(strings.Join(f.Examples, "\n")), stack)
}

// Check compares a summary against the fixture's expectations and returns
// one message per mismatch.
func (f *Fixture) Check(s Summary) []string {
	var out []string
	e := f.Expected
	if e.Examples != nil && s.Examples != *e.Examples {
		out = append(out, fmt.Sprintf("examples: expected %d, got %d", *e.Examples, s.Examples))
	}
	if e.Queries != nil && s.Queries != *e.Queries {
		out = append(out, fmt.Sprintf("queries: expected %d, got %d", *e.Queries, s.Queries))
	}
	if e.MaxQueries != nil && s.Queries > *e.MaxQueries {
		out = append(out, fmt.Sprintf("queries: expected at most %d, got %d", *e.MaxQueries, s.Queries))
	}
	return out
}

// #endregion fixture-replay
