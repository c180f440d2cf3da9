package filtering

import (
	"context"

	"github.com/spigell/auto-applier/internal/model"
)

const ContactName = "contact"

type contactFilter struct{}

// NewContact creates a filter that drops postings without a contact address.
func NewContact() Filter {
	return &contactFilter{}
}

func (f *contactFilter) Name() string { return ContactName }

func (f *contactFilter) Disable(string) {}

func (f *contactFilter) IsEnabled() bool { return true }

func (f *contactFilter) Apply(_ context.Context, job *model.JobPosting) (bool, error) {
	return job.HasContact(), nil
}
