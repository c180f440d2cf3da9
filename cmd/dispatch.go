package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/app"
	"github.com/spigell/auto-applier/internal/dispatch"
	logfields "github.com/spigell/auto-applier/internal/logger"
)

const (
	PromptYes          = "Yes"
	PromptNo           = "No"
	PromptShowMatches  = "Show matched jobs"
	PromptReportToFile = "Dump report to file"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Send applications?",
	Items: []string{PromptYes, PromptNo, PromptShowMatches, PromptReportToFile},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Match one candidate against new postings and send applications",
	Run: func(cmd *cobra.Command, _ []string) {
		runDispatch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)

	dispatchCmd.Flags().StringP("candidate", "c", "", "candidate id")
	dispatchCmd.Flags().Bool("dry-run", false, "evaluate and report without sending, writing the ledger or moving the cursor")
	dispatchCmd.Flags().Bool("ignore-cursor", false, "consider postings older than the last run")
	dispatchCmd.Flags().Int("max-items", 0, "applications cap for this run (default from config)")
	dispatchCmd.Flags().Duration("max-duration", 0, "time budget for this run (default from config)")
	dispatchCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before sending")

	dispatchCmd.MarkFlagRequired("candidate")
}

func runDispatch(cmd *cobra.Command) {
	ctx := context.Background()

	a, logger := setup(ctx, true)
	defer a.Close()

	candidateID, _ := cmd.Flags().GetString("candidate")
	opts := dispatch.Options{}
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.IgnoreCursor, _ = cmd.Flags().GetBool("ignore-cursor")
	opts.MaxItems, _ = cmd.Flags().GetInt("max-items")
	opts.MaxDuration, _ = cmd.Flags().GetDuration("max-duration")
	autoApprove, _ := cmd.Flags().GetBool("auto-approve")

	logger = logger.With(zap.String(logfields.FieldCandidateID, candidateID))
	logger.Info("starting the auto-applier", zap.Bool("dry_run", opts.DryRun))

	if opts.DryRun || autoApprove {
		report, err := a.Dispatch(ctx, candidateID, opts)
		logReport(logger, report)
		if err != nil {
			logger.Fatal("dispatch failed", zap.Error(err))
		}
		return
	}

	// Preview with a dry run and ask before anything is sent.
	preview := opts
	preview.DryRun = true
	report, err := a.Dispatch(ctx, candidateID, preview)
	if err != nil {
		logReport(logger, report)
		logger.Fatal("dispatch preview failed", zap.Error(err))
	}
	if len(report.Applied) == 0 {
		logReport(logger, report)
		logger.Info("exiting", zap.String("reason", "nothing to send"))
		return
	}

	logger.Info("applications ready to send", zap.Int("count", len(report.Applied)))

	for {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if err := handleAction(ctx, action, a, logger, candidateID, opts, report); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, action string, a *app.App, logger *zap.Logger, candidateID string, opts dispatch.Options, preview *dispatch.Report) error {
	switch action {
	case PromptYes:
		report, err := a.Dispatch(ctx, candidateID, opts)
		logReport(logger, report)
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		return errExit
	case PromptNo:
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptShowMatches:
		for _, job := range preview.Applied {
			logger.Info("matched job",
				zap.String("job_id", job.JobID),
				zap.String("title", job.Title),
				zap.String("category", job.Category),
				zap.String("reason", string(job.Reason)),
				zap.Float64("similarity", job.Similarity),
				zap.Float64("keyword_score", job.KeywordScore),
				zap.String("keywords", strings.Join(job.MatchedKeywords, ", ")),
			)
		}
		return nil
	case PromptReportToFile:
		filename, err := dumpToTmpFile(preview)
		if err != nil {
			return fmt.Errorf("dump report to file: %w", err)
		}
		logger.Info("dumping report to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func logReport(logger *zap.Logger, report *dispatch.Report) {
	if report == nil {
		return
	}
	// do not bother error since the report is plain data
	pretty, _ := json.MarshalIndent(report, "", "  ")
	logger.Info(string(pretty),
		zap.String("state", string(report.State)),
		zap.String("stop_reason", string(report.StopReason)),
		zap.Int("sent", report.Sent),
	)
}

func dumpToTmpFile(v any) (string, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("%s-report-%s-*.json", appName, time.Now().Format("20060102")))
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return f.Name(), nil
}
