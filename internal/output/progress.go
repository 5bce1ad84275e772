package output

import (
	"fmt"
	"io"

	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// #region progress
// Progress prints the progressive-validation table. A line is printed each
// time the weighted example count reaches the dump interval, which then
// doubles.
type Progress struct {
	w          io.Writer
	headerDone bool
}

// NewProgress returns a table writer; a nil writer disables it.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Update prints a line if the dump interval has been reached.
func (p *Progress) Update(st *stats.Running, label, predict string, numFeatures int) {
	if p == nil || p.w == nil || st.WeightedExamples < st.DumpInterval {
		return
	}
	if !p.headerDone {
		fmt.Fprintln(p.w, "average  since         example        example  current  current  current")
		fmt.Fprintln(p.w, "loss     last          counter         weight    label  predict features")
		p.headerDone = true
	}
	fmt.Fprintf(p.w, "%-10.6f %-10.6f %8d %11.1f %8s %8s %8d\n",
		st.AverageLoss(), st.SinceLastLoss(), st.ExampleNumber, st.WeightedExamples,
		label, predict, numFeatures)
	st.MarkDump()
}

// Summary prints the end-of-run totals.
func (p *Progress) Summary(st *stats.Running) {
	if p == nil || p.w == nil {
		return
	}
	fmt.Fprintf(p.w, "\nfinished run\n")
	fmt.Fprintf(p.w, "number of examples = %d\n", st.ExampleNumber)
	fmt.Fprintf(p.w, "weighted example sum = %f\n", st.WeightedExamples)
	fmt.Fprintf(p.w, "weighted label sum = %f\n", st.WeightedLabels)
	fmt.Fprintf(p.w, "average loss = %f\n", st.AverageLoss())
	fmt.Fprintf(p.w, "total queries = %d\n", st.Queries)
	fmt.Fprintf(p.w, "total feature number = %d\n", st.TotalFeatures)
}

// #endregion progress

// #region labels
// FormatScalar formats a label or prediction column.
func FormatScalar(v float64, unknown bool) string {
	if unknown {
		return "unknown"
	}
	return fmt.Sprintf("%8.4f", v)
}

// #endregion labels
