package active

import "math"

// #region budgets
// Unbounded is the label budget sentinel meaning "no limit".
const Unbounded uint64 = math.MaxUint64

// Skip is returned by QueryDecision when the label should not be queried.
const Skip = -1.0

// DoubleBudget doubles a label budget, saturating at Unbounded.
func DoubleBudget(b uint64) uint64 {
	if b > Unbounded/2 {
		return Unbounded
	}
	return b * 2
}

// ScaleBudget multiplies a label budget by n, saturating at Unbounded.
func ScaleBudget(b uint64, n uint64) uint64 {
	if n != 0 && b > Unbounded/n {
		return Unbounded
	}
	return b * n
}

// #endregion budgets

// #region mode
// Mode selects how a reduction treats labels.
type Mode int

const (
	// ModeActive forwards every example and reports the confidence of
	// unlabeled ones so a caller can decide whether to query.
	ModeActive Mode = iota
	// ModeSimulation has labels for every example and withholds the ones
	// the query rule declines.
	ModeSimulation
)

func (m Mode) String() string {
	if m == ModeSimulation {
		return "simulation"
	}
	return "active"
}

// #endregion mode

// #region config
// Config holds the binary active-learning parameters.
type Config struct {
	Mode            Mode
	Mellowness      float64 // c0
	Oracular        bool
	SimpleThreshold bool
	MinLabels       uint64 // checkpoint and double when queries reach this
	MaxLabels       uint64 // stop learning when queries reach this
	RegressorName   string // base name for checkpoints
	Seed            uint64
}

// DefaultConfig returns mellowness 8 and unbounded budgets.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeActive,
		Mellowness: 8,
		MinLabels:  Unbounded,
		MaxLabels:  Unbounded,
	}
}

// #endregion config
