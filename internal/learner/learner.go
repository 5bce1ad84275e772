// Package learner defines the base-learner capability set consumed and
// implemented by every layer of an active-learning stack, plus two concrete
// base learners: an in-process linear model and a gRPC client for a remote one.
package learner

import "github.com/danielpatrickdp/activelearn/internal/example"

// #region capabilities
// Learner is the capability set shared by base models and reductions.
// offset selects the per-class sub-model (class index - 1); binary stacks
// always pass 0.
type Learner interface {
	// Predict writes Pred.Scalar, PartialPrediction and Loss onto ex.
	Predict(ex *example.Example, offset int) error
	// Learn predicts, then updates on ex when its label is known.
	Learn(ex *example.Example, offset int) error
	// Sensitivity reports how far the prediction moves per unit of
	// importance weight.
	Sensitivity(ex *example.Example, offset int) (float64, error)
}

// Finisher finalizes an example once the whole stack is done with it.
type Finisher interface {
	FinishExample(ex *example.Example) error
}

// #endregion capabilities
