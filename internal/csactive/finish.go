package csactive

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/activelearn/internal/example"
)

// #region finish
// FinishExample accounts ex the way a cost-sensitive one-against-all
// learner does: the loss is the cost of the predicted class minus the
// cheapest observed cost, and every example has unit weight.
func (r *Reduction) FinishExample(ex *example.Example) error {
	st := r.stats
	test := example.IsTestCostLabel(ex.Costs)

	var loss float64
	if !test {
		chosen, cheapest := math.MaxFloat32, math.MaxFloat32
		for _, cl := range ex.Costs {
			if cl.ClassIndex == ex.Pred.Multiclass {
				chosen = cl.Cost
			}
			if cl.Cost < cheapest {
				cheapest = cl.Cost
			}
		}
		if example.IsUnlabeled(chosen) {
			r.log.Warn("predicted class has no observed cost",
				zap.Uint32("class", ex.Pred.Multiclass),
				zap.Uint32("num_classes", r.config.NumClasses),
			)
		}
		loss = chosen - cheapest
	}
	st.Update(ex.TestOnly, loss, 1, ex.NumFeatures())

	r.warn(r.opts.Sinks.WritePrediction(float64(ex.Pred.Multiclass), ex.Tag))
	r.warn(r.opts.Sinks.WriteRawText(rawScores(ex.Costs), ex.Tag))

	label := "known"
	if test {
		label = "unknown"
	}
	r.opts.Progress.Update(st, label, strconv.FormatUint(uint64(ex.Pred.Multiclass), 10), ex.NumFeatures())
	return nil
}

func rawScores(costs []example.WClass) string {
	var b strings.Builder
	for i, cl := range costs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d:%.6g", cl.ClassIndex, cl.PartialPrediction)
	}
	return b.String()
}

func (r *Reduction) warn(err error) {
	if err != nil {
		r.log.Warn("output sink", zap.Error(err))
	}
}

// #endregion finish
