package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	logfields "github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/outreach"
)

var applicationsCmd = &cobra.Command{
	Use:   "applications",
	Short: "List the applications already sent for a candidate",
	Run: func(cmd *cobra.Command, _ []string) {
		listApplications(cmd)
	},
}

func init() {
	rootCmd.AddCommand(applicationsCmd)

	applicationsCmd.Flags().StringP("candidate", "c", "", "candidate id")

	applicationsCmd.MarkFlagRequired("candidate")
}

func listApplications(cmd *cobra.Command) {
	ctx := context.Background()

	a, logger := setup(ctx, false)
	defer a.Close()

	candidateID, _ := cmd.Flags().GetString("candidate")
	if _, err := a.Store.GetCandidate(ctx, candidateID); err != nil {
		logger.Fatal("loading candidate", zap.String(logfields.FieldCandidateID, candidateID), zap.Error(err))
	}

	records, err := a.Store.ListApplications(ctx, candidateID)
	if err != nil {
		logger.Fatal("listing applications", zap.Error(err))
	}

	for _, rec := range records {
		logger.Info("application",
			zap.String("job_id", rec.JobID),
			zap.String("title", rec.JobTitle),
			zap.String("category", rec.Category),
			zap.Time("applied_at", rec.AppliedAt),
			zap.Float64("match_score", rec.MatchScore),
		)
	}
	logger.Info("applications",
		zap.String(logfields.FieldCandidateID, candidateID),
		zap.Int("count", len(records)),
		zap.Any("by_category", outreach.CountByCategory(records)),
	)
}
