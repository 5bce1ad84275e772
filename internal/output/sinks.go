package output

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// #region sinks
// Sinks fans finalized predictions out to every configured writer.
// Each Write* call emits exactly one line per writer.
type Sinks struct {
	predictions []io.Writer
	raw         io.Writer
}

// NewSinks builds sinks. raw may be nil.
func NewSinks(raw io.Writer, predictions ...io.Writer) *Sinks {
	return &Sinks{predictions: predictions, raw: raw}
}

// WriteActive writes "<prediction>[ <tag>| ][ <weight>]" to every prediction
// sink. weight is omitted when negative.
func (s *Sinks) WriteActive(prediction, weight float64, tag string) error {
	if s == nil {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%f", prediction)
	if !writeTag(&b, tag) {
		b.WriteByte(' ')
	}
	if weight >= 0 {
		fmt.Fprintf(&b, " %f", weight)
	}
	b.WriteByte('\n')
	return s.broadcast(b.String())
}

// WritePrediction writes "<prediction>[ <tag>]" to every prediction sink,
// printing integral predictions without a fractional part.
func (s *Sinks) WritePrediction(prediction float64, tag string) error {
	if s == nil {
		return nil
	}
	return s.broadcast(resultLine(prediction, tag))
}

// WriteRaw writes a raw scalar score to the raw sink.
func (s *Sinks) WriteRaw(score float64, tag string) error {
	if s == nil || s.raw == nil {
		return nil
	}
	return writeString(s.raw, resultLine(score, tag))
}

// WriteRawText writes preformatted raw output to the raw sink.
func (s *Sinks) WriteRawText(text, tag string) error {
	if s == nil || s.raw == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString(text)
	writeTag(&b, tag)
	b.WriteByte('\n')
	return writeString(s.raw, b.String())
}

func (s *Sinks) broadcast(line string) error {
	var first error
	for _, w := range s.predictions {
		if err := writeString(w, line); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// #endregion sinks

// #region helpers
func resultLine(v float64, tag string) string {
	var b strings.Builder
	if math.Floor(v) == v && !math.IsInf(v, 0) {
		fmt.Fprintf(&b, "%d", int64(v))
	} else {
		fmt.Fprintf(&b, "%f", v)
	}
	writeTag(&b, tag)
	b.WriteByte('\n')
	return b.String()
}

func writeTag(b *strings.Builder, tag string) bool {
	if tag == "" {
		return false
	}
	b.WriteByte(' ')
	b.WriteString(tag)
	return true
}

func writeString(w io.Writer, s string) error {
	n, err := io.WriteString(w, s)
	if err != nil {
		return fmt.Errorf("write prediction: %w", err)
	}
	if n != len(s) {
		return fmt.Errorf("write prediction: short write %d of %d bytes", n, len(s))
	}
	return nil
}

// #endregion helpers
