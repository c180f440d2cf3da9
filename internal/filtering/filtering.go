// Package filtering holds the cheap per-posting gates a dispatch run applies before
// any embedding or matching work.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/model"
)

// Filter is a single gate. Apply reports whether the posting passes.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Apply(ctx context.Context, job *model.JobPosting) (bool, error)
}

// Step counts the postings a gate has seen.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Chain applies filters in order and stops at the first one that drops a posting.
type Chain struct {
	steps  []Filter
	counts map[string]*Step
	logger *zap.Logger
}

func NewChain(logger *zap.Logger, steps ...Filter) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}

	counts := make(map[string]*Step, len(steps))
	for _, step := range steps {
		counts[step.Name()] = &Step{}
		if !step.IsEnabled() {
			logger.Info("filter disabled", zap.String("name", step.Name()))
		}
	}
	return &Chain{steps: steps, counts: counts, logger: logger}
}

// Check returns the name of the filter that dropped the posting, or "" when it passed all of them.
func (c *Chain) Check(ctx context.Context, job *model.JobPosting) (string, error) {
	for _, step := range c.steps {
		if !step.IsEnabled() {
			continue
		}

		count := c.counts[step.Name()]
		count.Initial++

		keep, err := step.Apply(ctx, job)
		if err != nil {
			return "", fmt.Errorf("%s: %w", step.Name(), err)
		}
		if !keep {
			count.Dropped++
			c.logger.Debug("posting dropped", zap.String("filter", step.Name()), zap.String("job_id", job.ID))
			return step.Name(), nil
		}
		count.Left++
	}
	return "", nil
}

// Steps returns a snapshot of the counters per filter name.
func (c *Chain) Steps() map[string]Step {
	out := make(map[string]Step, len(c.counts))
	for name, step := range c.counts {
		out[name] = *step
	}
	return out
}

// Filters returns the filters of the chain in order.
func (c *Chain) Filters() []Filter { return c.steps }

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}
