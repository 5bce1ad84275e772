package learner

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/activelearn/internal/example"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// Constant is the hashed index of the always-on bias feature.
const Constant uint64 = 11650396

// #region linear-config
// LinearConfig holds the hyperparameters of the reference linear learner.
type LinearConfig struct {
	Bits         uint    // weight table size per class is 2^Bits
	LearningRate float64 // base step size eta
	PowerT       float64 // eta_t = eta * t^-PowerT
	NumClasses   int     // number of per-class sub-models; 1 for binary
}

// DefaultLinearConfig returns the defaults used by the CLI.
func DefaultLinearConfig() LinearConfig {
	return LinearConfig{
		Bits:         18,
		LearningRate: 0.5,
		PowerT:       0.5,
		NumClasses:   1,
	}
}

// #endregion linear-config

// #region linear
// Linear is a hashed sparse linear regressor trained with an
// importance-aware squared-loss update.
type Linear struct {
	config  LinearConfig
	stats   *stats.Running
	mask    uint64
	weights [][]float64
}

var _ Learner = (*Linear)(nil)

// NewLinear allocates zero weights for every class.
func NewLinear(config LinearConfig, st *stats.Running) (*Linear, error) {
	if config.Bits == 0 || config.Bits > 30 {
		return nil, fmt.Errorf("linear learner: bits %d out of range [1, 30]", config.Bits)
	}
	if config.NumClasses < 1 {
		return nil, fmt.Errorf("linear learner: need at least one class, got %d", config.NumClasses)
	}
	l := &Linear{
		config:  config,
		stats:   st,
		mask:    (uint64(1) << config.Bits) - 1,
		weights: make([][]float64, config.NumClasses),
	}
	for i := range l.weights {
		l.weights[i] = make([]float64, 1<<config.Bits)
	}
	return l, nil
}

// Predict computes the clipped prediction for the given class offset.
func (l *Linear) Predict(ex *example.Example, offset int) error {
	w, err := l.table(offset)
	if err != nil {
		return err
	}
	raw := w[Constant&l.mask]
	for _, f := range ex.Features {
		raw += w[f.Index&l.mask] * f.Value
	}
	ex.PartialPrediction = raw
	ex.Pred.Scalar = l.clip(raw)

	ex.Loss = 0
	if !example.IsUnlabeled(ex.Simple.Label) {
		d := ex.Pred.Scalar - ex.Simple.Label
		ex.Loss = d * d * ex.Weight
	}
	return nil
}

// Learn predicts and, for labeled examples with positive weight, moves the
// weights toward the label.
func (l *Linear) Learn(ex *example.Example, offset int) error {
	if err := l.Predict(ex, offset); err != nil {
		return err
	}
	if example.IsUnlabeled(ex.Simple.Label) || ex.Weight <= 0 {
		return nil
	}
	w := l.weights[offset]

	xx := l.squaredNorm(ex)
	scale := l.eta(ex) * ex.Weight
	diff := ex.Simple.Label - ex.Pred.Scalar

	var u float64
	if scale*xx < 1e-6 {
		u = 2 * diff * scale
	} else {
		u = diff * (1 - math.Exp(-2*scale*xx)) / xx
	}

	w[Constant&l.mask] += u
	for _, f := range ex.Features {
		w[f.Index&l.mask] += u * f.Value
	}
	return nil
}

// Sensitivity is eta_t * x.x, independent of the label.
func (l *Linear) Sensitivity(ex *example.Example, offset int) (float64, error) {
	if _, err := l.table(offset); err != nil {
		return 0, err
	}
	return l.eta(ex) * l.squaredNorm(ex), nil
}

// WeightNorm returns the L2 norm of every class's weights.
func (l *Linear) WeightNorm() float64 {
	var sum float64
	for _, w := range l.weights {
		n := floats.Norm(w, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// #endregion linear

// #region helpers
func (l *Linear) table(offset int) ([]float64, error) {
	if offset < 0 || offset >= len(l.weights) {
		return nil, fmt.Errorf("linear learner: class offset %d out of range [0, %d)", offset, len(l.weights))
	}
	return l.weights[offset], nil
}

func (l *Linear) squaredNorm(ex *example.Example) float64 {
	xx := 1.0 // constant feature
	for _, f := range ex.Features {
		xx += f.Value * f.Value
	}
	return xx
}

func (l *Linear) eta(ex *example.Example) float64 {
	t := ex.ExampleT
	if t < 1 {
		t = 1
	}
	return l.config.LearningRate * math.Pow(t, -l.config.PowerT)
}

func (l *Linear) clip(p float64) float64 {
	if l.stats == nil {
		return p
	}
	if p < l.stats.MinLabel {
		return l.stats.MinLabel
	}
	if p > l.stats.MaxLabel {
		return l.stats.MaxLabel
	}
	return p
}

// #endregion helpers

// #region encoding
var errShortModel = errors.New("linear learner: truncated model")

// MarshalBinary encodes the class count, table size and every weight as
// little-endian float64.
func (l *Linear) MarshalBinary() ([]byte, error) {
	size := len(l.weights[0])
	buf := make([]byte, 8+len(l.weights)*size*8)
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(l.weights)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(l.config.Bits))
	off := 8
	for _, w := range l.weights {
		for _, v := range w {
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
			off += 8
		}
	}
	return buf, nil
}

// UnmarshalBinary restores weights written by MarshalBinary. The class count
// and table size must match the receiver's configuration.
func (l *Linear) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return errShortModel
	}
	classes := int(binary.LittleEndian.Uint32(b[0:]))
	bits := uint(binary.LittleEndian.Uint32(b[4:]))
	if classes != len(l.weights) || bits != l.config.Bits {
		return fmt.Errorf("linear learner: model has %d classes at %d bits, want %d at %d",
			classes, bits, len(l.weights), l.config.Bits)
	}
	size := 1 << bits
	if len(b) != 8+classes*size*8 {
		return errShortModel
	}
	off := 8
	for _, w := range l.weights {
		for i := range w {
			w[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
			off += 8
		}
	}
	return nil
}

// #endregion encoding
