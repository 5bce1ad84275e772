package csactive

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/activelearn/internal/active"
	"github.com/danielpatrickdp/activelearn/internal/example"
	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/output"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// #region fakes
type classLearner struct {
	preds    []float64
	sens     float64
	predicts int
	learned  map[int][]float64
}

func newClassLearner(sens float64, preds ...float64) *classLearner {
	return &classLearner{preds: preds, sens: sens, learned: map[int][]float64{}}
}

func (c *classLearner) Predict(ex *example.Example, offset int) error {
	c.predicts++
	ex.PartialPrediction = c.preds[offset]
	ex.Pred.Scalar = c.preds[offset]
	return nil
}

func (c *classLearner) Learn(ex *example.Example, offset int) error {
	c.learned[offset] = append(c.learned[offset], ex.Simple.Label)
	ex.PartialPrediction = c.preds[offset]
	ex.Pred.Scalar = c.preds[offset]
	return nil
}

func (c *classLearner) Sensitivity(*example.Example, int) (float64, error) {
	return c.sens, nil
}

type namesSaver struct{ names []string }

func (n *namesSaver) SaveModel(name string) error {
	n.names = append(n.names, name)
	return nil
}

type memRecorder struct{ entries []logging.DecisionEntry }

func (m *memRecorder) RecordDecision(e logging.DecisionEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func costExample(exampleT float64, costs ...float64) *example.Example {
	ex := &example.Example{
		Simple:   example.SimpleLabel{Label: example.Unlabeled},
		Weight:   1,
		ExampleT: exampleT,
	}
	for i, c := range costs {
		ex.Costs = append(ex.Costs, example.WClass{ClassIndex: uint32(i + 1), Cost: c})
	}
	return ex
}

func simulation(k uint32) Config {
	cfg := DefaultConfig(k)
	cfg.Mode = active.ModeSimulation
	return cfg
}

// #endregion fakes

// #region binary-search
func TestBinarySearchSatisfiesConstraint(t *testing.T) {
	for _, fhat := range []float64{0.01, 0.1, 0.5, 1, 3} {
		for _, delta := range []float64{0, 0.001, 0.1, 1, 10} {
			for _, sens := range []float64{1e-4, 0.01, 0.5, 1, 4} {
				w := BinarySearch(fhat, delta, sens, searchTol)
				require.GreaterOrEqualf(t, w, 0.0, "fhat=%v delta=%v sens=%v", fhat, delta, sens)
				d := fhat - sens*w
				lhs := w * (fhat*fhat - d*d)
				assert.LessOrEqualf(t, lhs, delta+searchTol, "fhat=%v delta=%v sens=%v w=%v", fhat, delta, sens, w)
			}
		}
	}
}

func TestBinarySearchFastPath(t *testing.T) {
	assert.Equal(t, 1.0, BinarySearch(1, 10, 1, searchTol))
	assert.Equal(t, 2.0, BinarySearch(1, 10, 0.5, searchTol))
}

func TestBinarySearchNonPositiveGap(t *testing.T) {
	assert.Equal(t, 0.0, BinarySearch(0, 1, 1, searchTol))
	assert.Equal(t, 0.0, BinarySearch(-0.5, 1, 1, searchTol))
}

func TestBinarySearchIsTight(t *testing.T) {
	// With delta well below fhat^2*maxw the root is interior.
	fhat, delta, sens := 0.5, 0.01, 0.01
	w := BinarySearch(fhat, delta, sens, searchTol)
	d := fhat - sens*w
	assert.InDelta(t, delta, w*(fhat*fhat-d*d), 1e-3)
}

// #endregion binary-search

// #region cost-range
func TestFindCostRangeFirstRoundIsFullAndLarge(t *testing.T) {
	r, err := New(newClassLearner(0.1, 0.5), stats.New(), DefaultConfig(1), Options{})
	require.NoError(t, err)

	lo, hi, large, err := r.FindCostRange(costExample(1, 0.5), 1, 1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
	assert.True(t, large)
}

func TestFindCostRangeDegenerateSensitivity(t *testing.T) {
	for _, sens := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		r, err := New(newClassLearner(sens, 0.5), stats.New(), DefaultConfig(1), Options{})
		require.NoError(t, err)
		r.t = 10
		lo, hi, large, err := r.FindCostRange(costExample(10, 0.5), 1, 1, 0.1)
		require.NoError(t, err)
		assert.Equal(t, 0.0, lo)
		assert.Equal(t, 1.0, hi)
		assert.True(t, large)
	}
}

func TestFindCostRangeStaysInsideBounds(t *testing.T) {
	for _, pred := range []float64{-0.5, 0, 0.2, 0.5, 0.99, 1, 1.7} {
		for _, sens := range []float64{0, 1e-4, 0.05, 1, 10} {
			for _, delta := range []float64{0, 0.01, 1, 100} {
				r, err := New(newClassLearner(sens, pred), stats.New(), DefaultConfig(1), Options{})
				require.NoError(t, err)
				r.t = 50
				lo, hi, _, err := r.FindCostRange(costExample(50, 0.5), 1, delta, 0.1)
				require.NoError(t, err)
				assert.LessOrEqual(t, lo, hi, "pred=%v sens=%v delta=%v", pred, sens, delta)
				assert.GreaterOrEqual(t, lo, 0.0, "pred=%v sens=%v delta=%v", pred, sens, delta)
				assert.LessOrEqual(t, hi, 1.0, "pred=%v sens=%v delta=%v", pred, sens, delta)
			}
		}
	}
}

func TestFindCostRangeShrinksWithSensitivity(t *testing.T) {
	width := func(sens float64) float64 {
		r, err := New(newClassLearner(sens, 0.5), stats.New(), DefaultConfig(1), Options{})
		require.NoError(t, err)
		r.t = 100
		lo, hi, _, err := r.FindCostRange(costExample(100, 0.5), 1, 0.5, 0.05)
		require.NoError(t, err)
		return hi - lo
	}
	assert.Less(t, width(1e-4), width(1e-2))
}

// #endregion cost-range

// #region orchestrator
func TestFirstRoundQueriesEveryClass(t *testing.T) {
	base := newClassLearner(0.1, 0.5, 0.4, 0.6)
	st := stats.New()
	r, err := New(base, st, simulation(3), Options{})
	require.NoError(t, err)

	ex := costExample(1, 0.2, 0.7, 0.9)
	require.NoError(t, r.Learn(ex, 0))

	for i, cl := range ex.Costs {
		assert.Equal(t, 0.0, cl.MinPred)
		assert.Equal(t, 1.0, cl.MaxPred)
		assert.True(t, cl.IsRangeLarge)
		assert.True(t, cl.IsRangeOverlapped)
		assert.Equal(t, []float64{cl.Cost}, base.learned[i])
	}
	assert.Equal(t, uint64(3), st.Queries)
	assert.Equal(t, []uint64{0, 0, 0, 1}, st.ExamplesByQueries)
	assert.Equal(t, uint64(2), r.Round())
	assert.Equal(t, uint32(2), ex.Pred.Multiclass)
	assert.Equal(t, 0.4, ex.PartialPrediction)
}

func TestArgminPrefersLowestClassOnTies(t *testing.T) {
	r, err := New(newClassLearner(0.1, 0.5, 0.2, 0.2), stats.New(), simulation(3), Options{})
	require.NoError(t, err)

	ex := costExample(1, 0.1, 0.1, 0.1)
	require.NoError(t, r.Predict(ex, 0))
	assert.Equal(t, uint32(2), ex.Pred.Multiclass)
	require.Len(t, ex.Passthrough, 3)
	assert.Equal(t, example.Passthrough{ClassIndex: 3, Value: 0.2}, ex.Passthrough[2])
}

func TestNoCostListPredictsAllClasses(t *testing.T) {
	base := newClassLearner(0.1, 0.9, 0.8, 0.3, 0.3)
	st := stats.New()
	r, err := New(base, st, DefaultConfig(4), Options{})
	require.NoError(t, err)

	ex := costExample(1)
	require.NoError(t, r.Learn(ex, 0))
	assert.Equal(t, uint32(3), ex.Pred.Multiclass)
	assert.Equal(t, 4, base.predicts)
	assert.Empty(t, base.learned)
	assert.Equal(t, uint64(0), st.Queries)
	assert.Equal(t, uint64(1), r.Round())
	assert.Equal(t, []uint64{1, 0, 0, 0, 0}, st.ExamplesByQueries)
}

func TestHistogramCountsShortcutExamples(t *testing.T) {
	cfg := simulation(2)
	cfg.MaxLabels = 1
	st := stats.New()
	r, err := New(newClassLearner(0.1, 0.6, 0.4), st, cfg, Options{})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Learn(costExample(float64(i), 0.2, 0.3), 0))
	}
	require.NoError(t, r.Learn(costExample(4), 0))

	assert.Equal(t, []uint64{3, 0, 1}, st.ExamplesByQueries)
}

func TestRejectsClassOutsideRange(t *testing.T) {
	base := newClassLearner(0.1, 0.5, 0.5)
	r, err := New(base, stats.New(), simulation(2), Options{})
	require.NoError(t, err)

	ex := costExample(1, 0.2, 0.3)
	ex.Costs = append(ex.Costs, example.WClass{ClassIndex: 3, Cost: 0.1})
	err = r.Learn(ex, 0)
	require.ErrorIs(t, err, example.ErrMalformedLabel)
	assert.Contains(t, err.Error(), "class 3 outside 1..2")
	assert.Zero(t, base.predicts)
}

func TestHistogramCountsEveryExample(t *testing.T) {
	st := stats.New()
	r, err := New(newClassLearner(0.01, 0.3, 0.35, 0.8), st, simulation(3), Options{})
	require.NoError(t, err)

	const n = 25
	for i := 1; i <= n; i++ {
		require.NoError(t, r.Learn(costExample(float64(i), 0.3, 0.4, 0.9), 0))
	}
	var sum uint64
	for _, c := range st.ExamplesByQueries {
		sum += c
	}
	assert.Equal(t, uint64(n), sum)
	assert.Equal(t, uint64(n+1), r.Round())
}

func TestSmallRangesSkipQueriesUnlessBaseline(t *testing.T) {
	run := func(baseline bool) (*stats.Running, *memRecorder) {
		st := stats.New()
		rec := &memRecorder{}
		cfg := simulation(2)
		cfg.Baseline = baseline
		r, err := New(newClassLearner(1e-4, 0.5, 0.5), st, cfg, Options{Recorder: rec})
		require.NoError(t, err)
		r.t = 100
		ex := costExample(100, 0.4, 0.6)
		require.NoError(t, r.Learn(ex, 0))
		for _, cl := range ex.Costs {
			require.True(t, cl.IsRangeOverlapped)
			require.False(t, cl.IsRangeLarge)
		}
		return st, rec
	}

	st, rec := run(false)
	assert.Equal(t, uint64(0), st.Queries)
	assert.Equal(t, uint64(2), st.OverlappedAndRangeSmall)
	require.Len(t, rec.entries, 2)
	assert.Equal(t, "small_range", rec.entries[0].Reason)
	assert.Equal(t, "cs_simulation", rec.entries[0].Mode)

	st, rec = run(true)
	assert.Equal(t, uint64(2), st.Queries)
	assert.Equal(t, "baseline", rec.entries[1].Reason)
	assert.True(t, rec.entries[1].Queried)
}

func TestOutsideRangeAccounting(t *testing.T) {
	st := stats.New()
	r, err := New(newClassLearner(1e-4, 0.5, 0.5), st, simulation(2), Options{})
	require.NoError(t, err)
	r.t = 100

	ex := costExample(100, 0.9, example.Unlabeled)
	require.NoError(t, r.Learn(ex, 0))
	assert.Equal(t, uint64(1), st.LabelsOutsideRange)
	cl := ex.Costs[0]
	assert.InDelta(t, 0.9-cl.MaxPred, st.DistanceToRange, 1e-12)
	assert.InDelta(t, cl.MaxPred-cl.MinPred, st.Range, 1e-12)
}

func TestOutsideRangeSkipsUnknownCosts(t *testing.T) {
	st := stats.New()
	r, err := New(newClassLearner(1e-4, 0.5, 0.5, 0.5), st, simulation(3), Options{})
	require.NoError(t, err)
	r.t = 100

	ex := costExample(100, example.Unlabeled, example.Unlabeled, 0.5)
	require.NoError(t, r.Learn(ex, 0))
	for _, cl := range ex.Costs[:2] {
		require.Less(t, cl.MaxPred, example.Unlabeled)
	}
	assert.Zero(t, st.LabelsOutsideRange)
	assert.Zero(t, st.DistanceToRange)
	assert.Zero(t, st.Range)
}

func TestMinLabelsDoublesScaledByClasses(t *testing.T) {
	saver := &namesSaver{}
	cfg := simulation(2)
	cfg.MinLabels = 1
	cfg.RegressorName = "m"
	st := stats.New()
	r, err := New(newClassLearner(math.NaN(), 0.5, 0.5), st, cfg, Options{Saver: saver})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Learn(costExample(float64(i), 0.2, 0.3), 0))
	}
	assert.Equal(t, []string{"m.2.2", "m.3.4"}, saver.names)
	assert.Equal(t, uint64(4), r.MinLabels())
	assert.Equal(t, uint64(6), st.Queries)
}

func TestMaxLabelsPredictsWithoutQuerying(t *testing.T) {
	base := newClassLearner(0.1, 0.6, 0.4)
	cfg := simulation(2)
	cfg.MaxLabels = 1
	st := stats.New()
	r, err := New(base, st, cfg, Options{})
	require.NoError(t, err)

	require.NoError(t, r.Learn(costExample(1, 0.2, 0.3), 0))
	require.Equal(t, uint64(2), st.Queries)
	calls := base.predicts

	ex := costExample(2, 0.2, 0.3)
	require.NoError(t, r.Learn(ex, 0))
	assert.Equal(t, calls+2, base.predicts)
	assert.Equal(t, uint32(2), ex.Pred.Multiclass)
	assert.Equal(t, uint64(2), st.Queries)
	assert.Equal(t, uint64(2), r.Round())
	assert.Len(t, base.learned[0], 1)
	assert.Len(t, base.learned[1], 1)
	assert.InDelta(t, 0.6, ex.Costs[0].PartialPrediction, 1e-12)
	assert.InDelta(t, 0.4, ex.Costs[1].PartialPrediction, 1e-12)
}

func TestActiveModeReportsThenLearnsQueried(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	base := newClassLearner(0.1, 0.5, 0.5)
	st := stats.New()
	r, err := New(base, st, DefaultConfig(2), Options{Logger: zap.New(core)})
	require.NoError(t, err)

	ex := costExample(1, 0.2, 1.5)
	require.NoError(t, r.Predict(ex, 0))
	assert.True(t, ex.Costs[0].QueryNeeded)
	assert.True(t, ex.Costs[1].QueryNeeded)
	assert.Empty(t, base.learned)

	ex.Costs[0].QueryNeeded = false
	require.NoError(t, r.Learn(ex, 0))
	assert.Nil(t, base.learned[0])
	assert.Equal(t, []float64{1.5}, base.learned[1])
	assert.Equal(t, uint64(0), st.Queries)
	assert.Equal(t, 1, logs.FilterMessage("cost outside of cost range").Len())
}

func TestDebugTraceLogsEveryClass(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := simulation(3)
	cfg.Debug = true
	r, err := New(newClassLearner(0.1, 0.1, 0.2, 0.3), stats.New(), cfg, Options{Logger: zap.New(core)})
	require.NoError(t, err)

	require.NoError(t, r.Learn(costExample(1, 0, 0, 0), 0))
	assert.Equal(t, 3, logs.FilterMessage("class decision").Len())
	assert.Equal(t, 3, logs.FilterMessage("cost range").Len())
}

// #endregion orchestrator

// #region finish
func TestFinishWritesClassAndRawScores(t *testing.T) {
	var preds, raw bytes.Buffer
	st := stats.New()
	r, err := New(newClassLearner(0.1, 0.1, 0.3), st, simulation(2), Options{
		Sinks: output.NewSinks(&raw, &preds),
	})
	require.NoError(t, err)

	ex := costExample(1, 0.4, 0.2)
	ex.Tag = "t"
	require.NoError(t, r.Learn(ex, 0))
	require.NoError(t, r.FinishExample(ex))

	assert.Equal(t, "1 t\n", preds.String())
	assert.Equal(t, "1:0.1 2:0.3 t\n", raw.String())
	assert.InDelta(t, 0.2, st.SumLoss, 1e-12)
	assert.Equal(t, 1.0, st.WeightedExamples)
}

func TestFinishTestLabelHasNoLoss(t *testing.T) {
	st := stats.New()
	r, err := New(newClassLearner(0.1, 0.1, 0.3), st, DefaultConfig(2), Options{})
	require.NoError(t, err)

	ex := costExample(1, example.Unlabeled, example.Unlabeled)
	require.NoError(t, r.Predict(ex, 0))
	require.NoError(t, r.FinishExample(ex))
	assert.Equal(t, 0.0, st.SumLoss)
	assert.Equal(t, uint64(1), st.ExampleNumber)
}

// #endregion finish

// #region setup
func TestNewRegistersCostRangeAndHistogram(t *testing.T) {
	st := stats.New()
	cfg := DefaultConfig(4)
	cfg.CostMin, cfg.CostMax = -1, 3
	_, err := New(newClassLearner(1), st, cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, -1.0, st.MinLabel)
	assert.Equal(t, 3.0, st.MaxLabel)
	assert.Len(t, st.ExamplesByQueries, 5)
}

func TestNewRejectsBadConfig(t *testing.T) {
	bad := []Config{
		DefaultConfig(0),
		func() Config { c := DefaultConfig(2); c.CostMax = 0; return c }(),
		func() Config { c := DefaultConfig(2); c.Mellowness = 0; return c }(),
	}
	for _, cfg := range bad {
		_, err := New(newClassLearner(1), stats.New(), cfg, Options{})
		assert.Error(t, err)
	}
	_, err := New(nil, stats.New(), DefaultConfig(2), Options{})
	assert.Error(t, err)
}

// #endregion setup
