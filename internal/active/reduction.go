// Package active implements binary active learning as a reduction over a
// base learner: a disagreement-based coin flip decides which labels to
// query, and queried examples are importance weighted by 1/p.
package active

import (
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/activelearn/internal/checkpoint"
	"github.com/danielpatrickdp/activelearn/internal/example"
	"github.com/danielpatrickdp/activelearn/internal/learner"
	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/output"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// #region options
// Options wires a reduction to its collaborators. Every field is optional.
type Options struct {
	Saver    checkpoint.ModelSaver
	Sinks    *output.Sinks
	Progress *output.Progress
	Recorder logging.Recorder
	Logger   *zap.Logger
	Rand     *rand.Rand // overrides the Config.Seed stream
}

// #endregion options

// #region reduction
// Reduction wraps a base learner with binary active learning. It implements
// learner.Learner and learner.Finisher so it can itself be wrapped.
type Reduction struct {
	config    Config
	minLabels uint64

	base  learner.Learner
	stats *stats.Running
	opts  Options
	log   *zap.Logger
	rng   *rand.Rand
}

var (
	_ learner.Learner  = (*Reduction)(nil)
	_ learner.Finisher = (*Reduction)(nil)
)

// New builds a binary active-learning reduction over base.
func New(base learner.Learner, st *stats.Running, config Config, opts Options) (*Reduction, error) {
	if base == nil || st == nil {
		return nil, fmt.Errorf("active: base learner and statistics are required")
	}
	if config.Mellowness <= 0 {
		return nil, fmt.Errorf("active: mellowness must be positive, got %f", config.Mellowness)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15))
	}
	return &Reduction{
		config:    config,
		minLabels: config.MinLabels,
		base:      base,
		stats:     st,
		opts:      opts,
		log:       logging.OrNop(opts.Logger),
		rng:       rng,
	}, nil
}

// MinLabels returns the current checkpoint budget.
func (r *Reduction) MinLabels() uint64 {
	return r.minLabels
}

// Predict runs the prediction path.
func (r *Reduction) Predict(ex *example.Example, offset int) error {
	return r.predictOrLearn(ex, offset, false)
}

// Learn runs the learning path.
func (r *Reduction) Learn(ex *example.Example, offset int) error {
	return r.predictOrLearn(ex, offset, true)
}

// Sensitivity delegates to the base learner.
func (r *Reduction) Sensitivity(ex *example.Example, offset int) (float64, error) {
	return r.base.Sensitivity(ex, offset)
}

func (r *Reduction) predictOrLearn(ex *example.Example, offset int, learn bool) error {
	if r.config.Mode == ModeSimulation {
		return r.simulate(ex, offset, learn)
	}
	return r.forward(ex, offset, learn)
}

// #endregion reduction

// #region simulation
func (r *Reduction) simulate(ex *example.Example, offset int, learn bool) error {
	if err := r.base.Predict(ex, offset); err != nil {
		return err
	}
	if !learn {
		return nil
	}

	st := r.stats
	if st.Queries >= r.minLabels {
		if r.opts.Saver != nil {
			name := checkpoint.BinaryName(r.config.RegressorName, st.NProcessed, st.NInDis, st.SumErrorNotInDis, st.Queries)
			if err := r.opts.Saver.SaveModel(name); err != nil {
				return err
			}
		}
		r.minLabels = DoubleBudget(r.minLabels)
	}
	if st.Queries >= r.config.MaxLabels {
		return nil
	}

	k := ex.ExampleT - ex.Weight
	const threshold = 0.0
	sens, err := r.base.Sensitivity(ex, offset)
	if err != nil {
		return err
	}
	ex.Confidence = math.Abs(ex.Pred.Scalar-threshold) / sens
	importance, err := r.decide(ex, k)
	if err != nil {
		return err
	}

	st.NProcessed = ex.ExampleT
	if math.Abs(importance-1) <= 1e-10 {
		st.NInDis++
	}

	switch {
	case importance > 0:
		st.Queries++
		ex.Weight *= importance
		return r.base.Learn(ex, offset)
	case r.config.Oracular:
		if sign(ex.Simple.Label) != sign(ex.Pred.Scalar) {
			st.SumErrorNotInDis++
		}
		ex.Simple.Label = sign(ex.Pred.Scalar)
		return r.base.Learn(ex, offset)
	default:
		ex.Simple.Label = example.Unlabeled
		return nil
	}
}

// #endregion simulation

// #region active
func (r *Reduction) forward(ex *example.Example, offset int, learn bool) error {
	var err error
	if learn {
		err = r.base.Learn(ex, offset)
	} else {
		err = r.base.Predict(ex, offset)
	}
	if err != nil {
		return err
	}

	if example.IsUnlabeled(ex.Simple.Label) {
		threshold := (r.stats.MaxLabel + r.stats.MinLabel) * 0.5
		sens, err := r.base.Sensitivity(ex, offset)
		if err != nil {
			return err
		}
		ex.Confidence = math.Abs(ex.Pred.Scalar-threshold) / sens
	}
	return nil
}

// #endregion active

// #region query-decision
// QueryDecision flips a coin with the bias computed from confidence after k
// rounds. It returns the importance weight 1/bias when the label should be
// queried and Skip otherwise. Exactly one random draw is consumed per call.
func (r *Reduction) QueryDecision(confidence, k float64) float64 {
	bias, threshold := 1.0, math.NaN()
	g := math.NaN()
	if k > 1 {
		st := r.stats
		avgLoss := st.SumLoss/k + math.Sqrt((1+0.5*math.Log(k))/(st.WeightedQueries()+epsilon))
		g = confidence / k
		bias, threshold = coinBias(k, avgLoss, g, r.config.Mellowness, r.config.Oracular, r.config.SimpleThreshold)
	}

	importance := Skip
	if r.rng.Float64() < bias {
		importance = 1 / bias
	}
	r.log.Debug("query decision",
		zap.Float64("reverting_weight", g),
		zap.Float64("threshold", threshold),
		zap.Bool("in_dis", bias == 1),
		zap.Float64("p", bias),
		zap.Float64("importance", importance),
	)
	return importance
}

func (r *Reduction) decide(ex *example.Example, k float64) (float64, error) {
	importance := r.QueryDecision(ex.Confidence, k)
	if r.opts.Recorder == nil {
		return importance, nil
	}
	err := r.opts.Recorder.RecordDecision(logging.DecisionEntry{
		ExampleNumber: ex.ExampleT,
		Mode:          r.config.Mode.String(),
		Confidence:    ex.Confidence,
		Importance:    importance,
		Queried:       importance > 0,
	})
	if err != nil {
		return 0, fmt.Errorf("record decision: %w", err)
	}
	return importance, nil
}

// #endregion query-decision
