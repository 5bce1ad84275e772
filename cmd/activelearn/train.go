package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/activelearn/internal/config"
	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/pipeline"
)

// #region flags
type trainFlags struct {
	configPath string
	reductions []string
	loss       string
	seed       uint64

	active          bool
	simulation      bool
	oracular        bool
	simpleThreshold bool
	mellowness      float64
	minLabels       uint64
	maxLabels       uint64

	csActive uint32
	baseline bool
	csaDebug bool
	rangeC   float64
	costMin  float64
	costMax  float64

	bits         uint
	learningRate float64
	powerT       float64
	remote       string
	timeout      time.Duration

	data           string
	predictions    string
	raw            string
	finalRegressor string
	checkpointDB   string
	decisionLog    string
	metricsAddr    string
	testOnly       bool
	quiet          bool
	debug          bool
}

func (f *trainFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML config file; flags override it")
	fs.StringSliceVar(&f.reductions, "reduction", nil, "other enabled reductions (lda, csoaa, active_cover)")
	fs.StringVar(&f.loss, "loss_function", "squared", "loss function")
	fs.Uint64Var(&f.seed, "random_seed", 0, "seed for query sampling")

	fs.BoolVar(&f.active, "active", false, "enable binary active learning")
	fs.BoolVar(&f.simulation, "simulation", false, "simulate active learning on fully labeled data")
	fs.BoolVar(&f.oracular, "oracular", false, "self-label skipped examples with the current prediction")
	fs.BoolVar(&f.simpleThreshold, "simple_threshold", false, "use the simple disagreement threshold")
	fs.Float64Var(&f.mellowness, "mellowness", 8, "query aggressiveness; smaller queries more")
	fs.Uint64Var(&f.minLabels, "min_labels", 0, "label count at which the first checkpoint is written")
	fs.Uint64Var(&f.maxLabels, "max_labels", 0, "label budget")

	fs.Uint32Var(&f.csActive, "cs_active", 0, "enable cost-sensitive active learning with K classes")
	fs.BoolVar(&f.baseline, "baseline", false, "query every overlapped class")
	fs.BoolVar(&f.csaDebug, "csa_debug", false, "log a per-class decision trace")
	fs.Float64Var(&f.rangeC, "range_c", 0.5, "scale of the small-range threshold")
	fs.Float64Var(&f.costMin, "cost_min", 0, "lower bound on costs")
	fs.Float64Var(&f.costMax, "cost_max", 1, "upper bound on costs")

	fs.UintVarP(&f.bits, "bit_precision", "b", 18, "weight table bits per class")
	fs.Float64VarP(&f.learningRate, "learning_rate", "l", 0.5, "learning rate")
	fs.Float64Var(&f.powerT, "power_t", 0.5, "learning rate decay exponent")
	fs.StringVar(&f.remote, "remote", "", "address of a remote base learner")
	fs.DurationVar(&f.timeout, "remote_timeout", 5*time.Second, "per-call timeout for the remote learner")

	fs.StringVarP(&f.data, "data", "d", "", "example file; stdin when empty")
	fs.StringVarP(&f.predictions, "predictions", "p", "", "prediction output file")
	fs.StringVarP(&f.raw, "raw_predictions", "r", "", "raw prediction output file")
	fs.StringVarP(&f.finalRegressor, "final_regressor", "f", "", "final model file and checkpoint prefix")
	fs.StringVar(&f.checkpointDB, "checkpoint-db", "", "SQLite checkpoint store")
	fs.StringVar(&f.decisionLog, "decision-log", "", "SQLite query-decision log")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVarP(&f.testOnly, "testonly", "t", false, "predict only, do not learn")
	fs.BoolVar(&f.quiet, "quiet", false, "suppress the progress table")
	fs.BoolVar(&f.debug, "debug", false, "debug logging")
}

// apply copies every flag the user set onto cfg. Flags shared by active and
// cs_active go to both sections.
func (f *trainFlags) apply(changed func(string) bool, cfg *config.Config) {
	set := func(name string, fn func()) {
		if changed(name) {
			fn()
		}
	}
	set("reduction", func() { cfg.Reductions = f.reductions })
	set("loss_function", func() { cfg.LossFunction = f.loss })
	set("random_seed", func() { cfg.Seed = f.seed })

	set("active", func() { cfg.Active.Enabled = f.active })
	set("simulation", func() { cfg.Active.Simulation, cfg.CSActive.Simulation = f.simulation, f.simulation })
	set("oracular", func() { cfg.Active.Oracular = f.oracular })
	set("simple_threshold", func() { cfg.Active.SimpleThreshold = f.simpleThreshold })
	set("mellowness", func() { cfg.Active.Mellowness, cfg.CSActive.Mellowness = f.mellowness, f.mellowness })
	set("min_labels", func() {
		v := f.minLabels
		cfg.Active.MinLabels, cfg.CSActive.MinLabels = &v, &v
	})
	set("max_labels", func() {
		v := f.maxLabels
		cfg.Active.MaxLabels, cfg.CSActive.MaxLabels = &v, &v
	})

	set("cs_active", func() { cfg.CSActive.Classes = f.csActive })
	set("baseline", func() { cfg.CSActive.Baseline = f.baseline })
	set("csa_debug", func() { cfg.CSActive.Debug = f.csaDebug })
	set("range_c", func() { cfg.CSActive.RangeC = f.rangeC })
	set("cost_min", func() { cfg.CSActive.CostMin = f.costMin })
	set("cost_max", func() { cfg.CSActive.CostMax = f.costMax })

	set("bit_precision", func() { cfg.Learner.Bits = f.bits })
	set("learning_rate", func() { cfg.Learner.LearningRate = f.learningRate })
	set("power_t", func() { cfg.Learner.PowerT = f.powerT })
	set("remote", func() { cfg.Learner.Remote = f.remote })
	set("remote_timeout", func() { cfg.Learner.Timeout = f.timeout })

	set("data", func() { cfg.IO.Data = f.data })
	set("predictions", func() { cfg.IO.Predictions = f.predictions })
	set("raw_predictions", func() { cfg.IO.Raw = f.raw })
	set("final_regressor", func() { cfg.IO.FinalRegressor = f.finalRegressor })
	set("checkpoint-db", func() { cfg.IO.CheckpointDB = f.checkpointDB })
	set("decision-log", func() { cfg.IO.DecisionLog = f.decisionLog })
	set("metrics-addr", func() { cfg.IO.MetricsAddr = f.metricsAddr })
	set("testonly", func() { cfg.IO.TestOnly = f.testOnly })
	set("quiet", func() { cfg.IO.Quiet = f.quiet })
	set("debug", func() { cfg.IO.Debug = f.debug })
}

// #endregion flags

// #region train
func newTrainCmd() *cobra.Command {
	var f trainFlags
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Learn from examples read from --data or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultConfig()
			if f.configPath != "" {
				var err error
				if cfg, err = config.Load(f.configPath); err != nil {
					return err
				}
			}
			f.apply(cmd.Flags().Changed, &cfg)
			return runTrain(cmd, cfg)
		},
	}
	f.register(cmd)
	return cmd
}

func runTrain(cmd *cobra.Command, cfg config.Config) error {
	logger, err := logging.New(cfg.IO.Debug || cfg.CSActive.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	stack, err := config.Build(cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer stack.Close()

	if cfg.IO.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.IO.MetricsAddr, stack.Collector, logger)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	var in io.Reader = cmd.InOrStdin()
	if cfg.IO.Data != "" {
		file, err := os.Open(cfg.IO.Data)
		if err != nil {
			return fmt.Errorf("open data: %w", err)
		}
		defer file.Close()
		in = file
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := pipeline.Run(ctx, in, stack); err != nil {
		return err
	}
	return stack.SaveFinal()
}

// serveMetrics exposes c on addr/metrics until the returned server is
// closed.
func serveMetrics(addr string, c prometheus.Collector, logger *zap.Logger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return srv, nil
}

// #endregion train
