// Package stats estimates how many postings of the whole corpus match a candidate.
// It never reads or writes the application ledger or the dispatch cursor.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/embedding"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/matching"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/store"
)

type Store interface {
	store.JobReader
	GetCandidate(ctx context.Context, id string) (*model.CandidateProfile, error)
	SetMatchStats(ctx context.Context, candidateID string, stats model.MatchStats) error
}

type Config struct {
	MaxDuration time.Duration
	PageSize    int
}

func DefaultConfig() Config {
	return Config{MaxDuration: 8 * time.Minute, PageSize: 500}
}

type Options struct {
	// Populate computes and stores missing embeddings on the way.
	Populate    bool          `json:"populate"`
	MaxDuration time.Duration `json:"maxDuration"`
}

type Estimator struct {
	store   Store
	cache   *embedding.Cache
	matcher *matching.Matcher
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(s Store, cache *embedding.Cache, matcher *matching.Matcher, cfg Config, m *metrics.Metrics, log *zap.Logger) (*Estimator, error) {
	if s == nil || cache == nil || matcher == nil {
		return nil, errors.New("store, embedding cache and matcher are required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Estimator{store: s, cache: cache, matcher: matcher, cfg: cfg, metrics: m, logger: log, now: time.Now}, nil
}

// Estimate walks the corpus within the time budget and stores the snapshot on the candidate.
// A snapshot cut short by the budget is stored with Complete set to false.
func (e *Estimator) Estimate(ctx context.Context, candidateID string, opts Options) (*model.MatchStats, error) {
	snapshot, err := e.estimate(ctx, candidateID, opts)
	if err != nil {
		e.metrics.StatsRun("error", 0)
		return nil, err
	}

	outcome := "complete"
	if !snapshot.Complete {
		outcome = "partial"
	}
	e.metrics.StatsRun(outcome, snapshot.MatchingJobs)
	return snapshot, nil
}

func (e *Estimator) estimate(ctx context.Context, candidateID string, opts Options) (*model.MatchStats, error) {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = e.cfg.MaxDuration
	}
	log := logger.WithFields(e.logger, logger.RunFields("", candidateID)...)

	candidate, err := e.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("loading candidate: %w", err)
	}

	mode := embedding.ReadOnly
	if opts.Populate {
		mode = embedding.Refresh
	}
	vector, err := e.cache.Candidate(ctx, candidate, mode)
	if err != nil {
		return nil, fmt.Errorf("resolving profile embedding: %w", err)
	}
	profile := e.matcher.Profile(candidate, vector)

	started := e.now()
	deadline := started.Add(opts.MaxDuration)
	snapshot := &model.MatchStats{ThresholdUsed: e.matcher.Thresholds().Similarity}

	pages := store.NewPaginator(e.store, "", e.cfg.PageSize, log)
walk:
	for {
		if e.now().After(deadline) {
			break
		}

		page, err := pages.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			snapshot.Complete = true
			break
		}

		for i := range page {
			if e.now().After(deadline) {
				break walk
			}

			job := &page[i]
			snapshot.TotalJobs++
			if !job.HasContact() {
				continue
			}
			snapshot.TotalWithContact++

			jobVector, err := e.cache.Job(ctx, job, mode)
			if err != nil {
				return nil, fmt.Errorf("resolving job embedding: %w", err)
			}
			if e.matcher.EvaluateJob(profile, job, jobVector).Match {
				snapshot.MatchingJobs++
			}
		}
	}

	snapshot.UpdatedAt = e.now().UTC()
	if err := e.store.SetMatchStats(ctx, candidate.ID, *snapshot); err != nil {
		return nil, fmt.Errorf("storing match stats: %w", err)
	}

	log.Info("match stats updated",
		zap.Int("total_jobs", snapshot.TotalJobs),
		zap.Int("total_with_contact", snapshot.TotalWithContact),
		zap.Int("matching_jobs", snapshot.MatchingJobs),
		zap.Bool("complete", snapshot.Complete),
		zap.Duration("elapsed", e.now().Sub(started)),
	)
	return snapshot, nil
}
