package active

import (
	"go.uber.org/zap"

	"github.com/danielpatrickdp/activelearn/internal/example"
	"github.com/danielpatrickdp/activelearn/internal/output"
)

// #region finish
// FinishExample accounts ex in the run statistics and emits its output
// lines. In active mode unlabeled examples get a fresh query decision whose
// importance is appended to the prediction line.
func (r *Reduction) FinishExample(ex *example.Example) error {
	if r.config.Mode == ModeSimulation {
		r.finishSimple(ex)
		return nil
	}

	st := r.stats
	unlabeled := example.IsUnlabeled(ex.Simple.Label)
	st.Update(ex.TestOnly, ex.Loss, ex.Weight, ex.NumFeatures())
	if !unlabeled && !ex.TestOnly {
		st.WeightedLabels += ex.Simple.Label * ex.Weight
	}
	if unlabeled {
		st.WeightedUnlabeledExamples += ex.Weight
	}

	importance := Skip
	if unlabeled {
		importance = r.QueryDecision(ex.Confidence, st.WeightedUnlabeledExamples)
	}

	r.warn(r.opts.Sinks.WriteRaw(ex.PartialPrediction, ex.Tag))
	r.warn(r.opts.Sinks.WriteActive(ex.Pred.Scalar, importance, ex.Tag))
	r.opts.Progress.Update(st, output.FormatScalar(ex.Simple.Label, unlabeled),
		output.FormatScalar(ex.Pred.Scalar, false), ex.NumFeatures())
	return nil
}

func (r *Reduction) finishSimple(ex *example.Example) {
	st := r.stats
	unlabeled := example.IsUnlabeled(ex.Simple.Label)
	st.Update(ex.TestOnly, ex.Loss, ex.Weight, ex.NumFeatures())
	if !unlabeled && !ex.TestOnly {
		st.WeightedLabels += ex.Simple.Label * ex.Weight
	}

	r.warn(r.opts.Sinks.WriteRaw(ex.PartialPrediction, ex.Tag))
	r.warn(r.opts.Sinks.WritePrediction(ex.Pred.Scalar, ex.Tag))
	r.opts.Progress.Update(st, output.FormatScalar(ex.Simple.Label, unlabeled),
		output.FormatScalar(ex.Pred.Scalar, false), ex.NumFeatures())
}

func (r *Reduction) warn(err error) {
	if err != nil {
		r.log.Warn("output sink", zap.Error(err))
	}
}

// #endregion finish
