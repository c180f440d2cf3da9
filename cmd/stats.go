package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	logfields "github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Estimate how many postings match a candidate",
	Run: func(cmd *cobra.Command, _ []string) {
		runStats(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringP("candidate", "c", "", "candidate id")
	statsCmd.Flags().Bool("populate", false, "compute and store missing embeddings on the way")

	statsCmd.MarkFlagRequired("candidate")
}

func runStats(cmd *cobra.Command) {
	ctx := context.Background()

	a, logger := setup(ctx, true)
	defer a.Close()

	candidateID, _ := cmd.Flags().GetString("candidate")
	populate, _ := cmd.Flags().GetBool("populate")

	snapshot, err := a.Estimator.Estimate(ctx, candidateID, stats.Options{Populate: populate})
	if err != nil {
		logger.Fatal("estimating matches", zap.Error(err))
	}

	logger.Info("match estimate",
		zap.String(logfields.FieldCandidateID, candidateID),
		zap.Int("total_jobs", snapshot.TotalJobs),
		zap.Int("total_with_contact", snapshot.TotalWithContact),
		zap.Int("matching_jobs", snapshot.MatchingJobs),
		zap.Float64("threshold_used", snapshot.ThresholdUsed),
		zap.Bool("complete", snapshot.Complete),
	)
}
