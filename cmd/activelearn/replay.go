package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/activelearn/internal/logging"
	"github.com/danielpatrickdp/activelearn/internal/pipeline"
)

// #region replay
func newReplayCmd() *cobra.Command {
	var (
		fixturePath string
		progress    bool
		debug       bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a JSON fixture and check its expected counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := pipeline.LoadFixture(fixturePath)
			if err != nil {
				return err
			}
			logger, err := logging.New(debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			var table io.Writer
			if progress {
				table = cmd.ErrOrStderr()
			}
			sum, err := f.Replay(cmd.Context(), logger, table)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", f.Description)
			fmt.Fprintf(out, "  examples=%d holdout=%d queries=%d average_loss=%.6f\n",
				sum.Examples, sum.HoldoutExamples, sum.Queries, sum.AverageLoss)
			if msgs := f.Check(sum); len(msgs) > 0 {
				return fmt.Errorf("fixture %s: %s", fixturePath, strings.Join(msgs, "; "))
			}
			fmt.Fprintln(out, "  ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "path to a fixture JSON file")
	cmd.Flags().BoolVar(&progress, "progress", false, "print the progress table to stderr")
	cmd.Flags().BoolVar(&debug, "debug", false, "debug logging")
	cmd.MarkFlagRequired("fixture")
	return cmd
}

// #endregion replay
