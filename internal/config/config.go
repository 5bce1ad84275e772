// Package config loads run configuration, validates the combination of
// enabled reductions, and assembles the learning stack.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/activelearn/internal/active"
	"github.com/danielpatrickdp/activelearn/internal/csactive"
	"github.com/danielpatrickdp/activelearn/internal/learner"
)

// #region errors
var (
	// ErrConflictingReductions is returned when incompatible reductions are
	// enabled together.
	ErrConflictingReductions = errors.New("conflicting reductions")
	// ErrNonSquaredLoss is returned when cs_active is used with another loss.
	ErrNonSquaredLoss = errors.New("cs_active requires squared loss")
	// ErrInvalidConfig covers out-of-range parameters.
	ErrInvalidConfig = errors.New("invalid config")
)

// #endregion errors

// #region types
// Config is the full run configuration.
type Config struct {
	Seed         uint64   `yaml:"seed"`
	LossFunction string   `yaml:"loss_function"`
	Reductions   []string `yaml:"reductions"` // other enabled reductions, e.g. "lda"

	Active   ActiveConfig   `yaml:"active"`
	CSActive CSActiveConfig `yaml:"cs_active"`
	Learner  LearnerConfig  `yaml:"learner"`
	IO       IOConfig       `yaml:"io"`
}

// ActiveConfig configures binary active learning.
type ActiveConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Simulation      bool    `yaml:"simulation"`
	Mellowness      float64 `yaml:"mellowness"`
	Oracular        bool    `yaml:"oracular"`
	SimpleThreshold bool    `yaml:"simple_threshold"`
	MinLabels       *uint64 `yaml:"min_labels"` // nil is unbounded
	MaxLabels       *uint64 `yaml:"max_labels"`
}

// CSActiveConfig configures cost-sensitive active learning. Classes 0
// disables it.
type CSActiveConfig struct {
	Classes    uint32  `yaml:"classes"`
	Simulation bool    `yaml:"simulation"`
	Baseline   bool    `yaml:"baseline"`
	Mellowness float64 `yaml:"mellowness"`
	RangeC     float64 `yaml:"range_c"`
	CostMin    float64 `yaml:"cost_min"`
	CostMax    float64 `yaml:"cost_max"`
	MinLabels  *uint64 `yaml:"min_labels"`
	MaxLabels  *uint64 `yaml:"max_labels"`
	Debug      bool    `yaml:"debug"`
}

// LearnerConfig selects the base learner. A non-empty Remote dials a gRPC
// learner server instead of training locally.
type LearnerConfig struct {
	Bits         uint          `yaml:"bits"`
	LearningRate float64       `yaml:"learning_rate"`
	PowerT       float64       `yaml:"power_t"`
	Remote       string        `yaml:"remote"`
	Timeout      time.Duration `yaml:"timeout"`
}

// IOConfig names the run's inputs and outputs. Empty paths are disabled.
type IOConfig struct {
	Data           string `yaml:"data"`
	Predictions    string `yaml:"predictions"`
	Raw            string `yaml:"raw_predictions"`
	FinalRegressor string `yaml:"final_regressor"`
	CheckpointDB   string `yaml:"checkpoint_db"`
	DecisionLog    string `yaml:"decision_log"`
	MetricsAddr    string `yaml:"metrics_addr"`
	TestOnly       bool   `yaml:"test_only"`
	Quiet          bool   `yaml:"quiet"`
	Debug          bool   `yaml:"debug"`
}

// #endregion types

// #region defaults
// DefaultConfig returns the defaults used when neither a file nor a flag
// sets a value.
func DefaultConfig() Config {
	lin := learner.DefaultLinearConfig()
	cs := csactive.DefaultConfig(0)
	return Config{
		LossFunction: "squared",
		Active: ActiveConfig{
			Mellowness: active.DefaultConfig().Mellowness,
		},
		CSActive: CSActiveConfig{
			Mellowness: cs.Mellowness,
			RangeC:     cs.RangeC,
			CostMin:    cs.CostMin,
			CostMax:    cs.CostMax,
		},
		Learner: LearnerConfig{
			Bits:         lin.Bits,
			LearningRate: lin.LearningRate,
			PowerT:       lin.PowerT,
			Timeout:      5 * time.Second,
		},
	}
}

// Load reads a YAML file over DefaultConfig. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// #endregion defaults

// #region validate
// Validate rejects configurations that cannot run. It is called before any
// example is read.
func (c Config) Validate() error {
	cs := c.CSActive.Classes > 0
	if c.Active.Enabled && cs {
		return fmt.Errorf("%w: active and cs_active cannot be used together", ErrConflictingReductions)
	}
	for _, r := range c.Reductions {
		switch {
		case r == "lda" && (c.Active.Enabled || cs):
			return fmt.Errorf("%w: lda cannot be combined with active learning", ErrConflictingReductions)
		case (r == "csoaa" || r == "active_cover") && cs:
			return fmt.Errorf("%w: cs_active cannot be used with %s", ErrConflictingReductions, r)
		}
	}
	if cs && c.LossFunction != "squared" {
		return fmt.Errorf("%w: got %q", ErrNonSquaredLoss, c.LossFunction)
	}

	if c.Active.Enabled && c.Active.Mellowness <= 0 {
		return fmt.Errorf("%w: active mellowness must be positive", ErrInvalidConfig)
	}
	if cs {
		if c.CSActive.Mellowness <= 0 || c.CSActive.RangeC < 0 {
			return fmt.Errorf("%w: cs_active mellowness must be positive and range_c non-negative", ErrInvalidConfig)
		}
		if c.CSActive.CostMax <= c.CSActive.CostMin {
			return fmt.Errorf("%w: cost_max %g must exceed cost_min %g", ErrInvalidConfig, c.CSActive.CostMax, c.CSActive.CostMin)
		}
	}
	if c.Learner.Remote == "" && (c.Learner.Bits == 0 || c.Learner.Bits > 30) {
		return fmt.Errorf("%w: bits %d out of range [1, 30]", ErrInvalidConfig, c.Learner.Bits)
	}
	return nil
}

// #endregion validate

// #region params
// ActiveParams converts the binary section to active.Config.
func (c Config) ActiveParams() active.Config {
	p := active.DefaultConfig()
	if c.Active.Simulation {
		p.Mode = active.ModeSimulation
	}
	p.Mellowness = c.Active.Mellowness
	p.Oracular = c.Active.Oracular
	p.SimpleThreshold = c.Active.SimpleThreshold
	p.MinLabels = budget(c.Active.MinLabels)
	p.MaxLabels = budget(c.Active.MaxLabels)
	p.RegressorName = c.IO.FinalRegressor
	p.Seed = c.Seed
	return p
}

// CSActiveParams converts the cost-sensitive section to csactive.Config.
func (c Config) CSActiveParams() csactive.Config {
	p := csactive.DefaultConfig(c.CSActive.Classes)
	if c.CSActive.Simulation {
		p.Mode = active.ModeSimulation
	}
	p.Mellowness = c.CSActive.Mellowness
	p.RangeC = c.CSActive.RangeC
	p.CostMin = c.CSActive.CostMin
	p.CostMax = c.CSActive.CostMax
	p.MinLabels = budget(c.CSActive.MinLabels)
	p.MaxLabels = budget(c.CSActive.MaxLabels)
	p.Baseline = c.CSActive.Baseline
	p.Debug = c.CSActive.Debug
	p.RegressorName = c.IO.FinalRegressor
	return p
}

// LinearParams converts the learner section to learner.LinearConfig.
func (c Config) LinearParams() learner.LinearConfig {
	p := learner.DefaultLinearConfig()
	p.Bits = c.Learner.Bits
	p.LearningRate = c.Learner.LearningRate
	p.PowerT = c.Learner.PowerT
	if c.CSActive.Classes > 0 {
		p.NumClasses = int(c.CSActive.Classes)
	}
	return p
}

func budget(v *uint64) uint64 {
	if v == nil {
		return active.Unbounded
	}
	return *v
}

// #endregion params
