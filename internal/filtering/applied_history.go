package filtering

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/auto-applier/internal/model"
)

const AppliedHistoryName = "applied_history"

// History answers whether an application for the pair was already recorded.
type History interface {
	HasApplied(ctx context.Context, candidateID, jobID string) (bool, error)
}

type appliedHistoryFilter struct {
	history     History
	candidateID string
}

// NewAppliedHistory creates a filter that drops postings already present in the application ledger.
func NewAppliedHistory(history History, candidateID string) Filter {
	return &appliedHistoryFilter{history: history, candidateID: candidateID}
}

func (f *appliedHistoryFilter) Name() string { return AppliedHistoryName }

// Disable is a no-op. The ledger gate cannot be turned off.
func (f *appliedHistoryFilter) Disable(string) {}

func (f *appliedHistoryFilter) IsEnabled() bool { return true }

func (f *appliedHistoryFilter) Apply(ctx context.Context, job *model.JobPosting) (bool, error) {
	if f.history == nil {
		return false, errors.New("application ledger is required")
	}

	applied, err := f.history.HasApplied(ctx, f.candidateID, job.ID)
	if err != nil {
		return false, fmt.Errorf("checking ledger for job %s: %w", job.ID, err)
	}
	return !applied, nil
}

func (f *appliedHistoryFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: true,
		Details: map[string]string{"candidate_id": f.candidateID},
	}
}
