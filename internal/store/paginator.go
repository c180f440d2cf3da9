package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/model"
)

// Paginator walks the job corpus in ascending key order. When the primary read fails,
// makes no progress, returns keys out of order or comes back empty, the page is read
// again through the fallback scan. Every key is returned exactly once.
type Paginator struct {
	reader JobReader
	after  string
	limit  int
	done   bool
	logger *zap.Logger

	Fallbacks int
}

func NewPaginator(reader JobReader, startAfter string, limit int, logger *zap.Logger) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{reader: reader, after: startAfter, limit: limit, logger: logger}
}

// Cursor is the last key returned so far.
func (p *Paginator) Cursor() string { return p.after }

// Next returns the next page. An empty page means the corpus is exhausted.
func (p *Paginator) Next(ctx context.Context) ([]model.JobPosting, error) {
	if p.done {
		return nil, nil
	}
	if p.limit <= 0 {
		return nil, errors.New("page size must be positive")
	}

	page, err := p.reader.JobsAfter(ctx, p.after, p.limit)
	if err != nil || degenerate(page, p.after) {
		fields := []zap.Field{zap.String("after", p.after), zap.Int("primary_items", len(page))}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		p.logger.Debug("falling back to scan read", fields...)
		p.Fallbacks++

		page, err = p.reader.ScanJobsAfter(ctx, p.after, p.limit)
		if err != nil {
			return nil, fmt.Errorf("reading jobs after %q: %w", p.after, err)
		}
	}

	page = normalize(page, p.after, p.limit)
	if len(page) == 0 {
		p.done = true
		return nil, nil
	}

	p.after = page[len(page)-1].ID
	return page, nil
}

// degenerate reports whether a primary page cannot be trusted.
// An empty page is confirmed with the fallback before the walk ends.
func degenerate(page []model.JobPosting, after string) bool {
	if len(page) == 0 {
		return true
	}
	prev := after
	for _, job := range page {
		if job.ID <= prev {
			return true
		}
		prev = job.ID
	}
	return false
}

// normalize keeps keys strictly greater than after, sorted and unique, capped at limit.
func normalize(page []model.JobPosting, after string, limit int) []model.JobPosting {
	sorted := make([]model.JobPosting, 0, len(page))
	for _, job := range page {
		if job.ID > after {
			sorted = append(sorted, job)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := make([]model.JobPosting, 0, len(sorted))
	for _, job := range sorted {
		if len(out) > 0 && out[len(out)-1].ID == job.ID {
			continue
		}
		out = append(out, job)
		if len(out) == limit {
			break
		}
	}
	return out
}
