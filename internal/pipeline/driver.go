// Package pipeline drives examples one at a time through an assembled
// learning stack: parse, learn or predict, then finish.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/activelearn/internal/config"
	"github.com/danielpatrickdp/activelearn/internal/example"
)

// maxLineBytes bounds a single example line.
const maxLineBytes = 16 << 20

// #region summary
// Summary reports the totals of one run.
type Summary struct {
	Examples         uint64
	HoldoutExamples  uint64
	Queries          uint64
	WeightedExamples float64
	AverageLoss      float64

	// Mean and standard deviation of the final weight of examples that were
	// still labeled when finished, i.e. the importance weights in simulation.
	WeightMean   float64
	WeightStdDev float64
}

// #endregion summary

// #region run
// Run reads one example per line from in and processes it through s.
// Blank lines are skipped. A malformed line aborts the run. Run returns when
// in is exhausted or ctx is cancelled.
func Run(ctx context.Context, in io.Reader, s *config.Stack) (Summary, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var weights []float64
	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return summarize(s, weights), err
		}
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		ex, err := example.ParseLine(line, s.LabelKind)
		if err != nil {
			return summarize(s, weights), fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := process(s, ex); err != nil {
			return summarize(s, weights), fmt.Errorf("line %d: %w", lineNo, err)
		}
		if s.LabelKind == example.SimpleLabels && !example.IsUnlabeled(ex.Simple.Label) {
			weights = append(weights, ex.Weight)
		}
	}
	if err := sc.Err(); err != nil {
		return summarize(s, weights), fmt.Errorf("read examples: %w", err)
	}

	sum := summarize(s, weights)
	s.Progress.Summary(s.Stats)
	s.Logger.Info("run finished",
		zap.String("run_id", s.RunID),
		zap.Uint64("examples", sum.Examples),
		zap.Uint64("queries", sum.Queries),
		zap.Float64("average_loss", sum.AverageLoss),
	)
	return sum, nil
}

// process runs a single example under the metrics lock.
func process(s *config.Stack, ex *example.Example) error {
	s.Collector.Lock()
	defer s.Collector.Unlock()

	st := s.Stats
	ex.TestOnly = s.TestOnly
	if s.LabelKind == example.SimpleLabels && !example.IsUnlabeled(ex.Simple.Label) {
		st.SetMinMax(ex.Simple.Label)
	}
	ex.ExampleT = st.Advance(ex.Weight)

	var err error
	if ex.TestOnly {
		err = s.Top.Predict(ex, 0)
	} else {
		err = s.Top.Learn(ex, 0)
	}
	if err != nil {
		return err
	}
	return s.Finisher.FinishExample(ex)
}

func summarize(s *config.Stack, weights []float64) Summary {
	s.Collector.Lock()
	defer s.Collector.Unlock()

	st := s.Stats
	sum := Summary{
		Examples:         st.ExampleNumber,
		HoldoutExamples:  st.HoldoutExamples,
		Queries:          st.Queries,
		WeightedExamples: st.WeightedExamples,
		AverageLoss:      st.AverageLoss(),
		WeightMean:       math.NaN(),
		WeightStdDev:     math.NaN(),
	}
	switch len(weights) {
	case 0:
	case 1:
		sum.WeightMean, sum.WeightStdDev = weights[0], 0
	default:
		sum.WeightMean, sum.WeightStdDev = stat.MeanStdDev(weights, nil)
	}
	return sum
}

// #endregion run
