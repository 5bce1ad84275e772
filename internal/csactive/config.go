package csactive

import (
	"go.uber.org/zap"

	"github.com/danielpatrickdp/activelearn/internal/active"
	"github.com/danielpatrickdp/activelearn/internal/checkpoint"
	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/output"
)

// #region config
// Config holds the cost-sensitive active-learning parameters.
type Config struct {
	NumClasses uint32
	// Mode is active.ModeSimulation when every cost is known up front, or
	// active.ModeActive when an outer caller answers the queries it is asked.
	Mode          active.Mode
	Mellowness    float64 // c0, scales the empirical loss threshold
	RangeC        float64 // c1, scales the cost range threshold
	CostMin       float64
	CostMax       float64
	MinLabels     uint64 // per class; checkpoint and double when reached
	MaxLabels     uint64 // per class; stop learning when reached
	Baseline      bool   // query every class once querying is triggered
	Debug         bool   // per-class trace at debug level
	RegressorName string
}

// DefaultConfig returns c0 = 0.1, c1 = 0.5, costs in [0, 1] and unbounded
// budgets.
func DefaultConfig(numClasses uint32) Config {
	return Config{
		NumClasses: numClasses,
		Mode:       active.ModeActive,
		Mellowness: 0.1,
		RangeC:     0.5,
		CostMin:    0,
		CostMax:    1,
		MinLabels:  active.Unbounded,
		MaxLabels:  active.Unbounded,
	}
}

// #endregion config

// #region options
// Options wires a reduction to its collaborators. Every field is optional.
type Options struct {
	Saver    checkpoint.ModelSaver
	Sinks    *output.Sinks
	Progress *output.Progress
	Recorder logging.Recorder
	Logger   *zap.Logger
}

// #endregion options
