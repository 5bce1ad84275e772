package example

import "math"

// #region sentinel
// Unlabeled marks a label slot or per-class cost whose true value is not known.
const Unlabeled = math.MaxFloat32

// IsUnlabeled reports whether v is the unlabeled sentinel.
func IsUnlabeled(v float64) bool {
	return v == Unlabeled
}

// #endregion sentinel

// #region feature
// Feature is one hashed sparse feature.
type Feature struct {
	Index uint64
	Value float64
}

// Passthrough is a derived per-class value exposed to an outer reduction.
type Passthrough struct {
	ClassIndex uint32
	Value      float64
}

// #endregion feature

// #region labels
// SimpleLabel is the scalar label slot. Label is Unlabeled when withheld.
type SimpleLabel struct {
	Label   float64
	Weight  float64
	Initial float64
}

// WClass is one class entry of a cost-sensitive label plus the per-example
// bookkeeping computed while deciding which costs to query.
type WClass struct {
	ClassIndex uint32 // 1-based
	Cost       float64

	MinPred           float64
	MaxPred           float64
	IsRangeOverlapped bool
	IsRangeLarge      bool
	QueryNeeded       bool
	PartialPrediction float64
}

// #endregion labels

// #region prediction
// Prediction holds the outputs a learner writes back onto an example.
type Prediction struct {
	Scalar     float64
	Multiclass uint32
}

// #endregion prediction

// #region example
// Example is a single training or test instance flowing through the stack.
// The driver owns it; reductions mutate it in place.
type Example struct {
	Features []Feature
	Tag      string

	Simple SimpleLabel
	Costs  []WClass // nil when the example carries no cost list

	Weight   float64
	ExampleT float64
	TestOnly bool

	Pred              Prediction
	PartialPrediction float64
	Confidence        float64
	Loss              float64

	Passthrough []Passthrough
}

// NumFeatures returns the number of features including the constant.
func (e *Example) NumFeatures() int {
	return len(e.Features) + 1
}

// AddPassthrough records a per-class score for an outer reduction.
func (e *Example) AddPassthrough(classIndex uint32, v float64) {
	e.Passthrough = append(e.Passthrough, Passthrough{ClassIndex: classIndex, Value: v})
}

// IsTestCostLabel reports whether a cost-sensitive label carries no known cost.
func IsTestCostLabel(costs []WClass) bool {
	for _, c := range costs {
		if !IsUnlabeled(c.Cost) {
			return false
		}
	}
	return true
}

// #endregion example
