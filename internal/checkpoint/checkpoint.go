package checkpoint

import (
	"encoding"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// #region contracts
// ModelSaver persists the current model under a checkpoint name. A failed
// save is fatal to the run.
type ModelSaver interface {
	SaveModel(name string) error
}

// Writer stores one encoded checkpoint.
type Writer interface {
	Write(name string, model []byte, metricsJSON string) error
}

// #endregion contracts

// #region naming
// BinaryName is <base>.<processed>.<in_dist>.<error>.<queries>.
func BinaryName(base string, processed float64, inDis, errNotInDis, queries uint64) string {
	return fmt.Sprintf("%s.%s.%d.%d.%d", base, formatCount(processed), inDis, errNotInDis, queries)
}

// MulticlassName is <base>.<example_t>.<queries>.
func MulticlassName(base string, exampleT float64, queries uint64) string {
	return fmt.Sprintf("%s.%s.%d", base, formatCount(exampleT), queries)
}

func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// #endregion naming

// #region saver
// Saver encodes a model and hands it to a Writer.
type Saver struct {
	model   encoding.BinaryMarshaler
	writer  Writer
	metrics func() any
}

var _ ModelSaver = (*Saver)(nil)

// NewSaver builds a Saver. metrics may be nil; when set its result is stored
// as JSON next to the model.
func NewSaver(model encoding.BinaryMarshaler, writer Writer, metrics func() any) *Saver {
	return &Saver{model: model, writer: writer, metrics: metrics}
}

// SaveModel writes the model under name.
func (s *Saver) SaveModel(name string) error {
	data, err := s.model.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode model %s: %w", name, err)
	}
	var metricsJSON string
	if s.metrics != nil {
		b, err := json.Marshal(s.metrics())
		if err != nil {
			return fmt.Errorf("marshal checkpoint metrics: %w", err)
		}
		metricsJSON = string(b)
	}
	if err := s.writer.Write(name, data, metricsJSON); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}

// #endregion saver

// #region file-writer
// FileWriter writes each checkpoint to its own file, relative to Dir.
type FileWriter struct {
	Dir string
}

// Write creates or truncates the checkpoint file. Metrics are not stored.
func (w FileWriter) Write(name string, model []byte, _ string) error {
	path := name
	if w.Dir != "" {
		path = filepath.Join(w.Dir, name)
	}
	if err := os.WriteFile(path, model, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// #endregion file-writer
