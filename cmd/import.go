package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load postings and candidates from JSON exports into the store",
	Run: func(cmd *cobra.Command, _ []string) {
		runImport(cmd)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("jobs", "", "JSON file with postings (array or object keyed by id)")
	importCmd.Flags().String("candidates", "", "JSON file with candidates (array or object keyed by id)")
}

func runImport(cmd *cobra.Command) {
	ctx := context.Background()

	jobsFile, _ := cmd.Flags().GetString("jobs")
	candidatesFile, _ := cmd.Flags().GetString("candidates")

	a, logger := setup(ctx, false)
	defer a.Close()

	if jobsFile == "" && candidatesFile == "" {
		logger.Fatal("nothing to import", zap.String("hint", "pass --jobs and/or --candidates"))
	}

	if candidatesFile != "" {
		importFile(ctx, logger, candidatesFile, a.Importer.ImportCandidates)
	}
	if jobsFile != "" {
		importFile(ctx, logger, jobsFile, a.Importer.ImportJobs)
	}
}

func importFile(ctx context.Context, logger *zap.Logger, path string, load func(context.Context, io.Reader) (ingest.Summary, error)) {
	f, err := os.Open(path)
	if err != nil {
		logger.Fatal("opening import file", zap.Error(err))
	}
	defer f.Close()

	summary, err := load(ctx, f)
	if err != nil {
		logger.Fatal("importing", zap.String("file", path), zap.Error(err))
	}

	for _, rejected := range summary.Rejected {
		logger.Warn("record rejected", zap.String("key", rejected.Key), zap.Strings("problems", rejected.Problems))
	}
	logger.Info("imported",
		zap.String("file", path),
		zap.Int("imported", summary.Imported),
		zap.Int("rejected", len(summary.Rejected)),
	)
}
