package config

import (
	"database/sql"
	"encoding"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/activelearn/internal/active"
	"github.com/danielpatrickdp/activelearn/internal/checkpoint"
	"github.com/danielpatrickdp/activelearn/internal/csactive"
	"github.com/danielpatrickdp/activelearn/internal/example"
	"github.com/danielpatrickdp/activelearn/internal/learner"
	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/metrics"
	"github.com/danielpatrickdp/activelearn/internal/output"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// defaultRegressorName names checkpoints written to a store when no final
// regressor was given.
const defaultRegressorName = "model"

// #region stack
// Stack is an assembled learning stack ready for the pipeline driver.
type Stack struct {
	RunID     string
	Top       learner.Learner
	Finisher  learner.Finisher
	Stats     *stats.Running
	Collector *metrics.Collector
	Progress  *output.Progress
	LabelKind example.LabelKind
	TestOnly  bool
	Logger    *zap.Logger

	saver     checkpoint.ModelSaver
	finalName string
	store     *checkpoint.Store
	closers   []io.Closer
}

// Close releases every file, database and connection the stack opened,
// returning the first error.
func (s *Stack) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// SaveFinal writes the final regressor when one was configured and the base
// learner can be checkpointed.
func (s *Stack) SaveFinal() error {
	if s.saver == nil || s.finalName == "" {
		return nil
	}
	if err := s.saver.SaveModel(s.finalName); err != nil {
		return fmt.Errorf("save final regressor: %w", err)
	}
	return nil
}

// Build validates cfg and assembles the stack it describes. progress
// receives the progress table; nil disables it.
func Build(cfg Config, logger *zap.Logger, progress io.Writer) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrNop(logger)

	s := &Stack{
		RunID:     uuid.New().String(),
		Stats:     stats.New(),
		LabelKind: example.SimpleLabels,
		TestOnly:  cfg.IO.TestOnly,
		Logger:    logger,
	}
	s.Collector = metrics.NewCollector(s.Stats)
	if !cfg.IO.Quiet {
		s.Progress = output.NewProgress(progress)
	}

	if err := s.build(cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) build(cfg Config) error {
	base, err := s.baseLearner(cfg)
	if err != nil {
		return err
	}
	saver, err := s.newSaver(cfg, base)
	if err != nil {
		return err
	}
	recorder, err := s.recorder(cfg)
	if err != nil {
		return err
	}
	sinks, err := s.sinks(cfg)
	if err != nil {
		return err
	}
	s.saver, s.finalName = saver, cfg.IO.FinalRegressor

	switch {
	case cfg.CSActive.Classes > 0:
		params := cfg.CSActiveParams()
		params.RegressorName = regressorName(params.RegressorName)
		r, err := csactive.New(base, s.Stats, params, csactive.Options{
			Saver:    saver,
			Sinks:    sinks,
			Progress: s.Progress,
			Recorder: recorder,
			Logger:   s.Logger.Named("cs_active"),
		})
		if err != nil {
			return err
		}
		s.Top, s.Finisher, s.LabelKind = r, r, example.CostLabels
	case cfg.Active.Enabled:
		params := cfg.ActiveParams()
		params.RegressorName = regressorName(params.RegressorName)
		r, err := active.New(base, s.Stats, params, active.Options{
			Saver:    saver,
			Sinks:    sinks,
			Progress: s.Progress,
			Recorder: recorder,
			Logger:   s.Logger.Named("active"),
		})
		if err != nil {
			return err
		}
		s.Top, s.Finisher = r, r
	default:
		return fmt.Errorf("%w: enable active or cs_active", ErrInvalidConfig)
	}
	return nil
}

func regressorName(name string) string {
	if name == "" {
		return defaultRegressorName
	}
	return name
}

// #endregion stack

// #region components
func (s *Stack) baseLearner(cfg Config) (learner.Learner, error) {
	if cfg.Learner.Remote != "" {
		r, err := learner.NewRemote(cfg.Learner.Remote, s.Stats, cfg.Learner.Timeout)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, r)
		s.Logger.Info("using remote learner", zap.String("addr", cfg.Learner.Remote))
		return r, nil
	}
	return learner.NewLinear(cfg.LinearParams(), s.Stats)
}

func (s *Stack) newSaver(cfg Config, base learner.Learner) (checkpoint.ModelSaver, error) {
	if cfg.IO.FinalRegressor == "" && cfg.IO.CheckpointDB == "" {
		return nil, nil
	}
	model, ok := base.(encoding.BinaryMarshaler)
	if !ok {
		s.Logger.Warn("base learner cannot be checkpointed; checkpoints disabled")
		return nil, nil
	}

	var writer checkpoint.Writer = checkpoint.FileWriter{}
	if cfg.IO.CheckpointDB != "" {
		store, err := checkpoint.NewStore(cfg.IO.CheckpointDB)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store)
		s.store = store
		writer = store
	}
	st := s.Stats
	return checkpoint.NewSaver(model, writer, func() any { return st }), nil
}

func (s *Stack) recorder(cfg Config) (logging.Recorder, error) {
	if cfg.IO.DecisionLog == "" {
		return nil, nil
	}
	if s.store != nil && cfg.IO.DecisionLog == cfg.IO.CheckpointDB {
		return logging.NewSQLRecorder(s.store.DB(), s.RunID)
	}
	db, err := sql.Open("sqlite", cfg.IO.DecisionLog)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.closers = append(s.closers, db)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return logging.NewSQLRecorder(db, s.RunID)
}

func (s *Stack) sinks(cfg Config) (*output.Sinks, error) {
	var preds []io.Writer
	var raw io.Writer
	if cfg.IO.Predictions != "" {
		f, err := s.create(cfg.IO.Predictions)
		if err != nil {
			return nil, err
		}
		preds = append(preds, f)
	}
	if cfg.IO.Raw != "" {
		f, err := s.create(cfg.IO.Raw)
		if err != nil {
			return nil, err
		}
		raw = f
	}
	return output.NewSinks(raw, preds...), nil
}

func (s *Stack) create(path string) (io.Writer, error) {
	if path == "/dev/stdout" || path == "-" {
		return os.Stdout, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	s.closers = append(s.closers, f)
	return f, nil
}

// #endregion components

// IsSetupError reports whether err is a configuration error rather than a
// runtime failure.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrConflictingReductions) ||
		errors.Is(err, ErrNonSquaredLoss) ||
		errors.Is(err, ErrInvalidConfig)
}
