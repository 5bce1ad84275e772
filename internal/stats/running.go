package stats

import "math"

// #region running
// Running holds the cumulative counters shared by every layer of a learning
// stack for the duration of a run. It is owned by the run, passed by pointer
// into each reduction, and never reset. Not safe for concurrent use; the
// pipeline processes one example at a time.
type Running struct {
	SumLoss              float64
	SumLossSinceLastDump float64
	WeightedExamples     float64
	WeightedLabels       float64
	OldWeightedExamples  float64

	// WeightedUnlabeledExamples is the total weight of examples finalized
	// without a label.
	WeightedUnlabeledExamples float64

	ExampleNumber uint64
	TotalFeatures uint64

	// T is the cumulative example weight handed to the stack; InitialT seeds it.
	T        float64
	InitialT float64

	// Holdout accounting for test-only examples.
	HoldoutSumLoss      float64
	HoldoutExamples     uint64
	WeightedHoldout     float64
	HoldoutSumSinceDump float64

	// Active-learning counters.
	Queries          uint64
	NProcessed       float64
	NInDis           uint64
	SumErrorNotInDis uint64

	// Cost-sensitive diagnostics. ExamplesByQueries[i] counts examples for
	// which exactly i class costs were queried.
	ExamplesByQueries       []uint64
	LabelsOutsideRange      uint64
	DistanceToRange         float64
	Range                   float64
	OverlappedAndRangeSmall uint64

	MinLabel float64
	MaxLabel float64

	DumpInterval float64
}

// New returns counters with an initial progress dump interval of one example.
func New() *Running {
	return &Running{DumpInterval: 1}
}

// #endregion running

// #region update
// Update accounts one finalized example.
func (r *Running) Update(testOnly bool, loss, weight float64, numFeatures int) {
	if testOnly {
		r.HoldoutSumLoss += loss
		r.HoldoutSumSinceDump += loss
		r.WeightedHoldout += weight
		r.HoldoutExamples++
		return
	}
	r.WeightedExamples += weight
	r.SumLoss += loss
	r.SumLossSinceLastDump += loss
	r.TotalFeatures += uint64(numFeatures)
	r.ExampleNumber++
}

// Advance adds weight to the cumulative example count and returns the new
// value, which the driver stores as the example's ExampleT.
func (r *Running) Advance(weight float64) float64 {
	r.T += weight
	return r.T + r.InitialT
}

// SetMinMax widens the observed label range to include label.
func (r *Running) SetMinMax(label float64) {
	if label < r.MinLabel {
		r.MinLabel = label
	}
	if label > r.MaxLabel {
		r.MaxLabel = label
	}
}

// WeightedQueries is the label weight actually acquired so far.
func (r *Running) WeightedQueries() float64 {
	return r.InitialT + r.WeightedExamples - r.WeightedUnlabeledExamples
}

// EnsureHistogram grows ExamplesByQueries to at least n buckets.
func (r *Running) EnsureHistogram(n int) {
	for len(r.ExamplesByQueries) < n {
		r.ExamplesByQueries = append(r.ExamplesByQueries, 0)
	}
}

// AverageLoss returns the progressive average loss, or NaN before any weight.
func (r *Running) AverageLoss() float64 {
	if r.WeightedExamples == 0 {
		return math.NaN()
	}
	return r.SumLoss / r.WeightedExamples
}

// SinceLastLoss returns the average loss since the last progress dump.
func (r *Running) SinceLastLoss() float64 {
	w := r.WeightedExamples - r.OldWeightedExamples
	if w == 0 {
		return math.NaN()
	}
	return r.SumLossSinceLastDump / w
}

// MarkDump resets the since-last counters and doubles the dump interval.
func (r *Running) MarkDump() {
	r.SumLossSinceLastDump = 0
	r.HoldoutSumSinceDump = 0
	r.OldWeightedExamples = r.WeightedExamples
	r.DumpInterval *= 2
}

// #endregion update
