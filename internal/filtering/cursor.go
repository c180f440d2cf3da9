package filtering

import (
	"context"

	"github.com/spigell/auto-applier/internal/model"
)

const CursorName = "cursor"

type cursorFilter struct {
	cursor   model.Cursor
	disabled bool
	reason   string
}

// NewCursor creates a filter that drops postings created before the candidate's last run.
func NewCursor(cursor model.Cursor) Filter {
	return &cursorFilter{cursor: cursor}
}

func (f *cursorFilter) Name() string { return CursorName }

func (f *cursorFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *cursorFilter) IsEnabled() bool { return !f.disabled }

func (f *cursorFilter) Apply(_ context.Context, job *model.JobPosting) (bool, error) {
	return !f.cursor.Skips(job.CreatedAt), nil
}

func (f *cursorFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"cursor": f.cursor.String()},
	}
}
