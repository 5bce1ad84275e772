package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/activelearn/internal/learner"
	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// #region serve-learner
func newServeLearnerCmd() *cobra.Command {
	var (
		addr  string
		debug bool
		lin   = learner.DefaultLinearConfig()
	)
	cmd := &cobra.Command{
		Use:   "serve-learner",
		Short: "Serve a linear base learner over gRPC for --remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			st := stats.New()
			base, err := learner.NewLinear(lin, st)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}

			srv := grpc.NewServer()
			learner.RegisterServer(srv, base, st)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)
			go func() {
				<-sig
				srv.GracefulStop()
			}()

			logger.Info("serving base learner",
				zap.String("addr", ln.Addr().String()),
				zap.Uint("bits", lin.Bits),
				zap.Int("classes", lin.NumClasses),
			)
			if err := srv.Serve(ln); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&addr, "addr", "localhost:50051", "listen address")
	fs.BoolVar(&debug, "debug", false, "debug logging")
	fs.UintVarP(&lin.Bits, "bit_precision", "b", lin.Bits, "weight table bits per class")
	fs.Float64VarP(&lin.LearningRate, "learning_rate", "l", lin.LearningRate, "learning rate")
	fs.Float64Var(&lin.PowerT, "power_t", lin.PowerT, "learning rate decay exponent")
	fs.IntVar(&lin.NumClasses, "classes", lin.NumClasses, "number of per-class models")
	return cmd
}

// #endregion serve-learner
