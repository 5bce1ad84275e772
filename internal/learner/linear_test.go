package learner

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/activelearn/internal/example"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

func newTestLinear(t *testing.T, classes int) (*Linear, *stats.Running) {
	t.Helper()
	st := stats.New()
	st.SetMinMax(-1)
	st.SetMinMax(1)
	cfg := DefaultLinearConfig()
	cfg.Bits = 10
	cfg.NumClasses = classes
	l, err := NewLinear(cfg, st)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	return l, st
}

func labeled(label float64, feats ...example.Feature) *example.Example {
	return &example.Example{
		Features: feats,
		Simple:   example.SimpleLabel{Label: label, Weight: 1},
		Weight:   1,
		ExampleT: 1,
	}
}

func TestLinearZeroPrediction(t *testing.T) {
	l, _ := newTestLinear(t, 1)
	ex := labeled(1, example.Feature{Index: 3, Value: 1})

	if err := l.Predict(ex, 0); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if ex.Pred.Scalar != 0 {
		t.Fatalf("expected 0 from zero weights, got %f", ex.Pred.Scalar)
	}
	if ex.Loss != 1 {
		t.Fatalf("expected squared loss 1, got %f", ex.Loss)
	}
}

func TestLinearLearnMovesTowardLabel(t *testing.T) {
	l, _ := newTestLinear(t, 1)
	feat := example.Feature{Index: 42, Value: 1}

	var prev float64
	for i := 0; i < 5; i++ {
		ex := labeled(1, feat)
		ex.ExampleT = float64(i + 1)
		if err := l.Learn(ex, 0); err != nil {
			t.Fatalf("Learn: %v", err)
		}
		probe := labeled(1, feat)
		l.Predict(probe, 0)
		if probe.Pred.Scalar < prev {
			t.Fatalf("prediction moved away from label at step %d: %f < %f", i, probe.Pred.Scalar, prev)
		}
		prev = probe.Pred.Scalar
	}
	if prev <= 0.5 || prev > 1 {
		t.Fatalf("expected prediction in (0.5, 1], got %f", prev)
	}
}

func TestLinearSkipsUnlabeled(t *testing.T) {
	l, _ := newTestLinear(t, 1)
	ex := labeled(example.Unlabeled, example.Feature{Index: 1, Value: 1})
	if err := l.Learn(ex, 0); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if l.WeightNorm() != 0 {
		t.Fatalf("unlabeled example changed weights: norm %f", l.WeightNorm())
	}
	if ex.Loss != 0 {
		t.Fatalf("expected zero loss for unlabeled, got %f", ex.Loss)
	}
}

func TestLinearClassesAreIndependent(t *testing.T) {
	l, _ := newTestLinear(t, 3)
	feat := example.Feature{Index: 7, Value: 1}
	if err := l.Learn(labeled(1, feat), 2); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	p0 := labeled(1, feat)
	p2 := labeled(1, feat)
	l.Predict(p0, 0)
	l.Predict(p2, 2)
	if p0.Pred.Scalar != 0 {
		t.Fatalf("class 0 should be untouched, got %f", p0.Pred.Scalar)
	}
	if p2.Pred.Scalar <= 0 {
		t.Fatalf("class 2 should have moved, got %f", p2.Pred.Scalar)
	}
}

func TestLinearOffsetOutOfRange(t *testing.T) {
	l, _ := newTestLinear(t, 2)
	if err := l.Predict(labeled(1), 2); err == nil {
		t.Fatal("expected error for offset 2 with 2 classes")
	}
	if _, err := l.Sensitivity(labeled(1), -1); err == nil {
		t.Fatal("expected error for negative offset")
	}
}

func TestLinearSensitivity(t *testing.T) {
	l, _ := newTestLinear(t, 1)
	ex := labeled(1, example.Feature{Index: 1, Value: 2})
	ex.ExampleT = 4

	sens, err := l.Sensitivity(ex, 0)
	if err != nil {
		t.Fatalf("Sensitivity: %v", err)
	}
	// eta_t = 0.5 * 4^-0.5 = 0.25, x.x = 1 + 4
	if math.Abs(sens-1.25) > 1e-12 {
		t.Fatalf("expected 1.25, got %f", sens)
	}
}

func TestLinearClipsToLabelRange(t *testing.T) {
	l, st := newTestLinear(t, 1)
	l.weights[0][Constant&l.mask] = 5
	ex := labeled(1)
	l.Predict(ex, 0)
	if ex.Pred.Scalar != st.MaxLabel {
		t.Fatalf("expected clip to %f, got %f", st.MaxLabel, ex.Pred.Scalar)
	}
	if ex.PartialPrediction != 5 {
		t.Fatalf("expected raw prediction 5, got %f", ex.PartialPrediction)
	}
}

func TestLinearBinaryRoundTrip(t *testing.T) {
	l, st := newTestLinear(t, 2)
	l.Learn(labeled(1, example.Feature{Index: 9, Value: 1}), 1)

	data, err := l.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	cfg := DefaultLinearConfig()
	cfg.Bits = 10
	cfg.NumClasses = 2
	restored, _ := NewLinear(cfg, st)
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if restored.WeightNorm() != l.WeightNorm() {
		t.Fatalf("norm mismatch: %f != %f", restored.WeightNorm(), l.WeightNorm())
	}

	cfg.NumClasses = 3
	wrong, _ := NewLinear(cfg, st)
	if err := wrong.UnmarshalBinary(data); err == nil {
		t.Fatal("expected error for class count mismatch")
	}
	if err := restored.UnmarshalBinary(data[:20]); err == nil {
		t.Fatal("expected error for truncated model")
	}
}

func TestNewLinearRejectsBadConfig(t *testing.T) {
	cfg := DefaultLinearConfig()
	cfg.Bits = 0
	if _, err := NewLinear(cfg, nil); err == nil {
		t.Fatal("expected error for zero bits")
	}
	cfg = DefaultLinearConfig()
	cfg.NumClasses = 0
	if _, err := NewLinear(cfg, nil); err == nil {
		t.Fatal("expected error for zero classes")
	}
}
