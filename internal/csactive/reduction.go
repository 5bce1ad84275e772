// Package csactive implements cost-sensitive multiclass active learning as a
// reduction over a per-class base regressor. For every example it bounds the
// cost of each class, and queries per-class costs only when more than one
// class could plausibly be the cheapest.
package csactive

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/activelearn/internal/active"
	"github.com/danielpatrickdp/activelearn/internal/checkpoint"
	"github.com/danielpatrickdp/activelearn/internal/example"
	"github.com/danielpatrickdp/activelearn/internal/learner"
	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// #region reduction
// Reduction wraps a base learner with cost-sensitive active learning.
type Reduction struct {
	config    Config
	t         uint64 // learning round, starts at 1
	minLabels uint64

	base  learner.Learner
	stats *stats.Running
	opts  Options
	log   *zap.Logger
}

var (
	_ learner.Learner  = (*Reduction)(nil)
	_ learner.Finisher = (*Reduction)(nil)
)

// New builds the reduction and registers the cost bounds and the
// queries-per-example histogram with st.
func New(base learner.Learner, st *stats.Running, config Config, opts Options) (*Reduction, error) {
	if base == nil || st == nil {
		return nil, fmt.Errorf("cs_active: base learner and statistics are required")
	}
	if config.NumClasses == 0 {
		return nil, fmt.Errorf("cs_active: need at least one class")
	}
	if config.CostMax <= config.CostMin {
		return nil, fmt.Errorf("cs_active: cost range [%g, %g] is empty", config.CostMin, config.CostMax)
	}
	if config.Mellowness <= 0 || config.RangeC < 0 {
		return nil, fmt.Errorf("cs_active: mellowness %g and range_c %g must be positive", config.Mellowness, config.RangeC)
	}

	st.SetMinMax(config.CostMax)
	st.SetMinMax(config.CostMin)
	st.EnsureHistogram(int(config.NumClasses) + 1)

	return &Reduction{
		config:    config,
		t:         1,
		minLabels: config.MinLabels,
		base:      base,
		stats:     st,
		opts:      opts,
		log:       logging.OrNop(opts.Logger),
	}, nil
}

// Round returns the current learning round.
func (r *Reduction) Round() uint64 {
	return r.t
}

// MinLabels returns the current per-class checkpoint budget.
func (r *Reduction) MinLabels() uint64 {
	return r.minLabels
}

// Predict computes the cheapest class. In active mode it also marks, per
// class, whether the caller should acquire that cost before learning.
func (r *Reduction) Predict(ex *example.Example, _ int) error {
	return r.predictOrLearn(ex, false)
}

// Learn computes the cheapest class and learns from the queried costs.
func (r *Reduction) Learn(ex *example.Example, _ int) error {
	return r.predictOrLearn(ex, true)
}

// Sensitivity delegates to the base learner.
func (r *Reduction) Sensitivity(ex *example.Example, offset int) (float64, error) {
	return r.base.Sensitivity(ex, offset)
}

// #endregion reduction

// #region orchestrator
func (r *Reduction) predictOrLearn(ex *example.Example, learn bool) error {
	st := r.stats
	k := uint64(r.config.NumClasses)

	for _, cl := range ex.Costs {
		if cl.ClassIndex < 1 || cl.ClassIndex > r.config.NumClasses {
			return fmt.Errorf("%w: class %d outside 1..%d", example.ErrMalformedLabel, cl.ClassIndex, r.config.NumClasses)
		}
	}

	if st.Queries >= active.ScaleBudget(r.minLabels, k) {
		if r.opts.Saver != nil {
			name := checkpoint.MulticlassName(r.config.RegressorName, ex.ExampleT, st.Queries)
			if err := r.opts.Saver.SaveModel(name); err != nil {
				return err
			}
		}
		r.minLabels = active.DoubleBudget(r.minLabels)
		r.dumpDiagnostics()
	}

	prediction := uint32(1)
	score := math.MaxFloat32
	ex.Simple = example.SimpleLabel{}
	ex.Passthrough = ex.Passthrough[:0]

	if len(ex.Costs) == 0 || st.Queries >= active.ScaleBudget(r.config.MaxLabels, k) {
		for i := uint32(1); i <= r.config.NumClasses; i++ {
			var unused bool
			if err := r.innerLoop(ex, i, example.Unlabeled, false, false, &unused); err != nil {
				return err
			}
			choose(ex, i, &prediction, &score)
		}
		for i := range ex.Costs {
			ex.Costs[i].PartialPrediction = ex.Passthrough[ex.Costs[i].ClassIndex-1].Value
		}
		st.ExamplesByQueries[0]++
		ex.Pred.Multiclass = prediction
		return nil
	}

	width := r.config.CostMax - r.config.CostMin
	t := float64(r.t)
	eta := r.config.RangeC * width / math.Sqrt(t)
	delta := r.config.Mellowness * math.Log(float64(k)*math.Max(t-1, 1)) * width * width

	minMaxCost := math.MaxFloat32
	for i := range ex.Costs {
		cl := &ex.Costs[i]
		var err error
		cl.MinPred, cl.MaxPred, cl.IsRangeLarge, err = r.FindCostRange(ex, cl.ClassIndex, delta, eta)
		if err != nil {
			return err
		}
		minMaxCost = math.Min(minMaxCost, cl.MaxPred)
	}

	overlapped := 0
	for i := range ex.Costs {
		cl := &ex.Costs[i]
		cl.IsRangeOverlapped = cl.MinPred <= minMaxCost
		if cl.IsRangeOverlapped {
			overlapped++
			if !cl.IsRangeLarge {
				st.OverlappedAndRangeSmall++
			}
		}
		if !example.IsUnlabeled(cl.Cost) && (cl.Cost > cl.MaxPred || cl.Cost < cl.MinPred) {
			st.LabelsOutsideRange++
			st.DistanceToRange += math.Max(cl.Cost-cl.MaxPred, cl.MinPred-cl.Cost)
			st.Range += cl.MaxPred - cl.MinPred
		}
	}

	query := overlapped > 1
	before := st.Queries
	for i := range ex.Costs {
		cl := &ex.Costs[i]
		queryLabel := query && (r.config.Baseline || (cl.IsRangeOverlapped && cl.IsRangeLarge))
		if err := r.innerLoop(ex, cl.ClassIndex, cl.Cost, learn, queryLabel, &cl.QueryNeeded); err != nil {
			return err
		}
		cl.PartialPrediction = ex.PartialPrediction
		choose(ex, cl.ClassIndex, &prediction, &score)

		if r.config.Debug {
			r.log.Debug("class decision",
				zap.Uint32("label", cl.ClassIndex),
				zap.Float64("x", cl.Cost),
				zap.Uint32("prediction", prediction),
				zap.Float64("score", score),
				zap.Float64("pp", cl.PartialPrediction),
				zap.Bool("ql", queryLabel),
				zap.Bool("qn", cl.QueryNeeded),
				zap.Bool("ro", cl.IsRangeOverlapped),
				zap.Bool("rl", cl.IsRangeLarge),
				zap.Float64("min_pred", cl.MinPred),
				zap.Float64("max_pred", cl.MaxPred),
				zap.Float64("delta", delta),
				zap.Int("n_overlapped", overlapped),
				zap.Bool("is_baseline", r.config.Baseline),
			)
		}
		if err := r.record(ex, cl, queryLabel, query); err != nil {
			return err
		}
	}

	queried := int(st.Queries - before)
	st.EnsureHistogram(queried + 1)
	st.ExamplesByQueries[queried]++

	ex.PartialPrediction = score
	if learn {
		r.t++
	}
	ex.Pred.Multiclass = prediction
	return nil
}

// innerLoop predicts class and, when learning, trains on its cost if it was
// queried. In active mode a prediction reports the query decision through
// queryNeeded instead.
func (r *Reduction) innerLoop(ex *example.Example, class uint32, cost float64, learn, queryLabel bool, queryNeeded *bool) error {
	offset := int(class) - 1
	if err := r.base.Predict(ex, offset); err != nil {
		return err
	}

	switch {
	case learn:
		ex.Simple.Weight = 1
		ex.Weight = 1
		ex.Simple.Label = example.Unlabeled
		if r.config.Mode == active.ModeSimulation {
			if queryLabel {
				ex.Simple.Label = cost
				r.stats.Queries++
			}
		} else if *queryNeeded {
			ex.Simple.Label = cost
			if cost < r.config.CostMin || cost > r.config.CostMax {
				r.log.Warn("cost outside of cost range",
					zap.Float64("cost", cost),
					zap.Float64("cost_min", r.config.CostMin),
					zap.Float64("cost_max", r.config.CostMax),
				)
			}
		}
		if !example.IsUnlabeled(ex.Simple.Label) {
			return r.base.Learn(ex, offset)
		}
	case r.config.Mode == active.ModeActive:
		*queryNeeded = queryLabel
	}
	return nil
}

// choose keeps the lowest score seen so far, preferring the lower class
// index on ties, and exposes the class score to outer reductions.
func choose(ex *example.Example, class uint32, prediction *uint32, score *float64) {
	pp := ex.PartialPrediction
	if pp < *score || (pp == *score && class < *prediction) {
		*score = pp
		*prediction = class
	}
	ex.AddPassthrough(class, pp)
}

// #endregion orchestrator

// #region diagnostics
func (r *Reduction) dumpDiagnostics() {
	st := r.stats
	outside := float64(st.LabelsOutsideRange)
	r.log.Info("label budget reached",
		zap.Uint64("queries", st.Queries),
		zap.Uint64("next_min_labels", r.minLabels),
		zap.Uint64s("examples_by_queries", st.ExamplesByQueries),
		zap.Uint64("labels_outside_range", st.LabelsOutsideRange),
		zap.Float64("average_distance_to_range", st.DistanceToRange/outside),
		zap.Float64("average_range", st.Range/outside),
	)
}

func (r *Reduction) record(ex *example.Example, cl *example.WClass, queryLabel, triggered bool) error {
	if r.opts.Recorder == nil {
		return nil
	}
	reason := "single_overlap"
	switch {
	case queryLabel && r.config.Baseline:
		reason = "baseline"
	case queryLabel:
		reason = "overlapped_large_range"
	case triggered && !cl.IsRangeOverlapped:
		reason = "not_overlapped"
	case triggered:
		reason = "small_range"
	}
	importance := active.Skip
	if queryLabel {
		importance = 1
	}
	err := r.opts.Recorder.RecordDecision(logging.DecisionEntry{
		ExampleNumber: ex.ExampleT,
		ClassIndex:    cl.ClassIndex,
		Mode:          "cs_" + r.config.Mode.String(),
		Confidence:    cl.MaxPred - cl.MinPred,
		Importance:    importance,
		Queried:       queryLabel,
		Reason:        reason,
	})
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// #endregion diagnostics
