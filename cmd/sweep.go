package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/scheduler"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Dispatch every candidate with auto apply enabled, one after another",
	Run: func(_ *cobra.Command, _ []string) {
		sweep()
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func sweep() {
	ctx := context.Background()

	a, logger := setup(ctx, true)
	defer a.Close()

	sched, err := scheduler.New(scheduler.Config{}, a.Store, a, nil, a.Metrics, logger)
	if err != nil {
		logger.Fatal("creating the sweep", zap.Error(err))
	}

	res, err := sched.Sweep(ctx)
	if err != nil {
		logger.Fatal("sweep failed", zap.Error(err))
	}
	if res.Failed > 0 {
		logger.Warn("some candidates failed", zap.Int("failed", res.Failed))
	}
}
