package csactive

import (
	"math"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/activelearn/internal/example"
)

const (
	searchMaxIter = 20
	searchTol     = 1e-6
)

// #region binary-search
// BinarySearch returns the largest importance weight w for which
// w*(fhat^2 - (fhat-sens*w)^2) stays within delta, bisecting from
// [0, fhat/sens]. The lower bound is returned so the result never exceeds
// the constraint by more than tol. A non-positive fhat gives 0.
func BinarySearch(fhat, delta, sens, tol float64) float64 {
	if fhat <= 0 {
		return 0
	}
	maxw := math.Min(fhat/sens, math.MaxFloat32)
	if maxw*fhat*fhat <= delta {
		return maxw
	}

	l, u := 0.0, maxw
	for i := 0; i < searchMaxIter; i++ {
		w := (u + l) / 2
		d := fhat - sens*w
		v := w*(fhat*fhat-d*d) - delta
		if v > 0 {
			u = w
		} else {
			l = w
		}
		if math.Abs(v) <= tol || u-l <= tol {
			break
		}
	}
	return l
}

// #endregion binary-search

// #region cost-range
// FindCostRange estimates the plausible cost interval for class on ex. Before
// the second round, or when the base learner reports a degenerate
// sensitivity, the whole cost range is returned and flagged large.
func (r *Reduction) FindCostRange(ex *example.Example, class uint32, delta, eta float64) (minPred, maxPred float64, large bool, err error) {
	offset := int(class) - 1
	if err := r.base.Predict(ex, offset); err != nil {
		return 0, 0, false, err
	}
	sens, err := r.base.Sensitivity(ex, offset)
	if err != nil {
		return 0, 0, false, err
	}

	cmin, cmax := r.config.CostMin, r.config.CostMax
	if r.t <= 1 || math.IsNaN(sens) || math.IsInf(sens, 0) || sens < 0 {
		minPred, maxPred, large = cmin, cmax, true
	} else {
		pred := math.Min(cmax, math.Max(cmin, ex.Pred.Scalar))
		maxPred = math.Min(pred+sens*BinarySearch(cmax-pred, delta, sens, searchTol), cmax)
		minPred = math.Max(pred-sens*BinarySearch(pred-cmin, delta, sens, searchTol), cmin)
		large = maxPred-minPred > eta
	}

	r.log.Debug("cost range",
		zap.Uint32("class", class),
		zap.Float64("pp", ex.PartialPrediction),
		zap.Float64("sens", sens),
		zap.Float64("eta", eta),
		zap.Float64("min_pred", minPred),
		zap.Float64("max_pred", maxPred),
	)
	return minPred, maxPred, large, nil
}

// #endregion cost-range
