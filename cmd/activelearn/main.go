// Command activelearn trains a linear learner with binary or cost-sensitive
// active learning over a stream of text examples.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/activelearn/internal/config"
)

// #region main
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "activelearn",
		Short:         "Active learning over a stream of examples",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTrainCmd(), newReplayCmd(), newServeLearnerCmd())
	return root
}

// exitCode is 2 for setup errors and 1 for everything else.
func exitCode(err error) int {
	if config.IsSetupError(err) {
		return 2
	}
	return 1
}

// #endregion main
