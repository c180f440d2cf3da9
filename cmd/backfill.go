package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute missing or stale posting embeddings",
	Run: func(cmd *cobra.Command, _ []string) {
		runBackfill(cmd)
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().String("start-after", "", "resume after this posting id")
	backfillCmd.Flags().Bool("once", false, "handle a single page and print the cursor to resume from")
}

func runBackfill(cmd *cobra.Command) {
	ctx := context.Background()

	a, logger := setup(ctx, true)
	defer a.Close()

	startAfter, _ := cmd.Flags().GetString("start-after")
	once, _ := cmd.Flags().GetBool("once")

	run := a.Backfiller.RunAll
	if once {
		run = a.Backfiller.Run
	}

	res, err := run(ctx, startAfter)
	if err != nil {
		logger.Fatal("backfill failed", zap.Error(err), zap.String("resume_after", res.NextCursor))
	}

	logger.Info("backfill done",
		zap.Int("processed", res.Processed),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.String("next_cursor", res.NextCursor),
	)
}
