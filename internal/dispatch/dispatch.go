// Package dispatch runs the budgeted incremental scan that matches postings against a
// candidate and hands every new match to the messaging collaborator exactly once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/embedding"
	"github.com/spigell/auto-applier/internal/filtering"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/matching"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/outreach"
	"github.com/spigell/auto-applier/internal/store"
)

var ErrCandidateDisabled = errors.New("auto apply is disabled for candidate")

// ErrBudgetTooShort is returned when a run's time budget leaves no room past the safety margin.
var ErrBudgetTooShort = errors.New("time budget does not exceed the safety margin")

// Store is what a run reads and writes.
type Store interface {
	store.JobReader
	store.Ledger
	GetCandidate(ctx context.Context, id string) (*model.CandidateProfile, error)
	SetCursor(ctx context.Context, candidateID string, cursor model.Cursor) error
}

type Config struct {
	MaxItems     int
	MaxDuration  time.Duration
	SafetyMargin time.Duration
	PageSize     int
}

func DefaultConfig() Config {
	return Config{
		MaxItems:     50,
		MaxDuration:  9 * time.Minute,
		SafetyMargin: 20 * time.Second,
		PageSize:     200,
	}
}

// Options are per-run overrides. Zero values fall back to Config.
type Options struct {
	MaxItems     int           `json:"maxItems"`
	MaxDuration  time.Duration `json:"maxDuration"`
	DryRun       bool          `json:"dryRun"`
	IgnoreCursor bool          `json:"ignoreCursor"`
}

type Dispatcher struct {
	store    Store
	cache    *embedding.Cache
	matcher  *matching.Matcher
	sender   outreach.Sender
	notifier outreach.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config

	now   func() time.Time
	runID func() string
}

type Option func(*Dispatcher)

// WithClock replaces time.Now. Budget checks and the cursor both use it.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithRunID(fn func() string) Option {
	return func(d *Dispatcher) { d.runID = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithNotifier(n outreach.Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

func New(s Store, cache *embedding.Cache, matcher *matching.Matcher, sender outreach.Sender, cfg Config, log *zap.Logger, opts ...Option) (*Dispatcher, error) {
	switch {
	case s == nil:
		return nil, errors.New("store is required")
	case cache == nil:
		return nil, errors.New("embedding cache is required")
	case matcher == nil:
		return nil, errors.New("matcher is required")
	case sender == nil:
		return nil, errors.New("sender is required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	}
	if log == nil {
		log = zap.NewNop()
	}

	d := &Dispatcher{
		store:   s,
		cache:   cache,
		matcher: matcher,
		sender:  sender,
		cfg:     cfg,
		logger:  log,
		now:     time.Now,
		runID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dispatcher) Config() Config { return d.cfg }

// run holds the state of one invocation.
type run struct {
	*Dispatcher

	opts      Options
	candidate *model.CandidateProfile
	profile   matching.Profile
	chain     *filtering.Chain
	missing   []string
	started   time.Time
	deadline  time.Time
	records   []model.ApplicationRecord
	report    *Report
	logger    *zap.Logger
}

// Run executes one dispatch run for the candidate. The caller must make sure no other
// run for the same candidate is active.
func (d *Dispatcher) Run(ctx context.Context, candidateID string, opts Options) (*Report, error) {
	if opts.MaxItems <= 0 {
		opts.MaxItems = d.cfg.MaxItems
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = d.cfg.MaxDuration
	}
	if opts.MaxDuration <= d.cfg.SafetyMargin {
		return nil, fmt.Errorf("%w: max duration %s, safety margin %s", ErrBudgetTooShort, opts.MaxDuration, d.cfg.SafetyMargin)
	}

	r := &run{
		Dispatcher: d,
		opts:       opts,
		started:    d.now(),
		report: &Report{
			RunID:       d.runID(),
			CandidateID: candidateID,
			DryRun:      opts.DryRun,
			State:       StateIdle,
			Applied:     []AppliedJob{},
		},
	}
	r.deadline = r.started.Add(opts.MaxDuration - d.cfg.SafetyMargin)
	r.report.StartedAt = r.started
	r.logger = logger.WithFields(d.logger, logger.RunFields(r.report.RunID, candidateID)...)

	err := r.execute(ctx)

	r.report.FinishedAt = d.now()
	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.report.StopReason = StopAborted
		r.logger.Error("dispatch run aborted", zap.String("state", string(r.report.State)), zap.Error(err))
	}
	d.metrics.DispatchRun(outcome, r.report.FinishedAt.Sub(r.started))
	d.recordJobMetrics(r.report)

	return r.report, err
}

func (r *run) execute(ctx context.Context) error {
	candidate, err := r.store.GetCandidate(ctx, r.report.CandidateID)
	if err != nil {
		return fmt.Errorf("loading candidate: %w", err)
	}
	if !candidate.AutoApplyEnabled {
		return fmt.Errorf("%s: %w", candidate.ID, ErrCandidateDisabled)
	}
	r.candidate = candidate

	mode := embedding.Refresh
	if r.opts.DryRun {
		mode = embedding.ReadOnly
	}
	vector, err := r.cache.Candidate(ctx, candidate, mode)
	if err != nil {
		return fmt.Errorf("resolving profile embedding: %w", err)
	}
	if vector == nil {
		r.report.note("profile embedding unavailable; matching on title and keywords only")
	}
	r.profile = r.matcher.Profile(candidate, vector)

	r.missing = candidate.MissingMaterial()

	steps := []filtering.Filter{
		filtering.NewCursor(candidate.LastAutoApply),
		filtering.NewContact(),
		filtering.NewAppliedHistory(r.store, candidate.ID),
	}
	if r.opts.IgnoreCursor {
		filtering.DisableByName(steps, filtering.CursorName, "ignore cursor requested")
	}
	r.chain = filtering.NewChain(r.logger, steps...)
	r.report.Filters = filtering.Describe(steps)

	r.logger.Info("dispatch run started",
		zap.String("cursor", candidate.LastAutoApply.String()),
		zap.Bool("dry_run", r.opts.DryRun),
		zap.Bool("ignore_cursor", r.opts.IgnoreCursor),
		zap.Int("max_items", r.opts.MaxItems),
		zap.Duration("max_duration", r.opts.MaxDuration),
	)

	if err := r.scan(ctx); err != nil {
		return err
	}
	return r.finalize(ctx)
}

func (r *run) scan(ctx context.Context) error {
	r.report.State = StateScanning
	pages := store.NewPaginator(r.store, "", r.cfg.PageSize, r.logger)
	defer func() { r.report.Fallbacks = pages.Fallbacks }()

	for {
		if reason, stop := r.budgetExhausted(); stop {
			r.report.StopReason = reason
			return nil
		}

		page, err := pages.Next(ctx)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			r.report.StopReason = StopExhausted
			return nil
		}
		r.report.Pages++

		for i := range page {
			if reason, stop := r.budgetExhausted(); stop {
				r.report.StopReason = reason
				return nil
			}
			r.report.State = StateScanning
			if err := r.visit(ctx, &page[i]); err != nil {
				return err
			}
		}
	}
}

func (r *run) budgetExhausted() (StopReason, bool) {
	if r.report.dispatched() >= r.opts.MaxItems {
		return StopItemCap, true
	}
	if r.now().After(r.deadline) {
		return StopTimeBudget, true
	}
	return "", false
}

func (r *run) visit(ctx context.Context, job *model.JobPosting) error {
	r.report.Scanned++

	dropped, err := r.chain.Check(ctx, job)
	if err != nil {
		return err
	}
	switch dropped {
	case filtering.CursorName:
		r.report.SkippedOld++
		return nil
	case filtering.ContactName:
		r.report.MissingContact++
		return nil
	case filtering.AppliedHistoryName:
		r.report.AlreadyApplied++
		return nil
	}

	r.report.State = StateMatching
	mode := embedding.Refresh
	if r.opts.DryRun {
		mode = embedding.ReadOnly
	}
	vector, err := r.cache.Job(ctx, job, mode)
	if err != nil {
		return fmt.Errorf("resolving job embedding: %w", err)
	}

	result := r.matcher.EvaluateJob(r.profile, job, vector)
	if !result.Match {
		r.report.NotMatched++
		return nil
	}
	r.report.Matched++

	if len(r.missing) > 0 {
		r.report.MissingMaterial++
		r.report.note("profile is missing " + strings.Join(r.missing, ", "))
		return nil
	}

	applied := AppliedJob{
		JobID:           job.ID,
		Title:           job.Title,
		Category:        job.Category,
		Similarity:      result.Similarity,
		KeywordScore:    result.KeywordScore,
		MatchedKeywords: result.MatchedKeywords,
		Reason:          result.Reason,
	}
	if r.opts.DryRun {
		r.report.Applied = append(r.report.Applied, applied)
		return nil
	}

	r.report.State = StateDispatching
	return r.send(ctx, job, applied)
}

func (r *run) send(ctx context.Context, job *model.JobPosting, applied AppliedJob) error {
	rec := model.ApplicationRecord{
		CandidateID:     r.candidate.ID,
		JobID:           job.ID,
		JobTitle:        job.Title,
		Category:        job.Category,
		AppliedAt:       r.now().UTC(),
		MatchScore:      applied.Similarity,
		KeywordScore:    applied.KeywordScore,
		MatchedKeywords: applied.MatchedKeywords,
	}

	if err := r.sender.SendApplication(ctx, outreach.NewApplication(r.report.RunID, r.candidate, job, rec)); err != nil {
		return fmt.Errorf("sending application for job %s: %w", job.ID, err)
	}

	created, err := r.store.RecordApplication(ctx, rec)
	if err != nil {
		return fmt.Errorf("recording application for job %s: %w", job.ID, err)
	}
	if !created {
		r.logger.Warn("application was recorded by another run", zap.String("job_id", job.ID))
	}

	r.report.Sent++
	r.report.Applied = append(r.report.Applied, applied)
	r.records = append(r.records, rec)

	r.logger.Info("application sent",
		zap.String("job_id", job.ID),
		zap.String("reason", string(applied.Reason)),
		zap.Float64("similarity", applied.Similarity),
		zap.Float64("keyword_score", applied.KeywordScore),
	)
	return nil
}

func (r *run) finalize(ctx context.Context) error {
	r.report.State = StateFinalizing

	if r.opts.DryRun {
		r.report.Cursor = r.candidate.LastAutoApply.String()
	} else {
		// the cursor moves to now even when the budget ran out before the end of the corpus
		cursor := model.FromTimestamp(r.now())
		if err := r.store.SetCursor(ctx, r.candidate.ID, cursor); err != nil {
			return fmt.Errorf("advancing cursor: %w", err)
		}
		r.report.Cursor = cursor.String()
		if r.report.StopReason != StopExhausted {
			r.report.note(fmt.Sprintf("stopped early (%s); postings created before %s were not all visited", r.report.StopReason, cursor))
		}
	}

	if !r.opts.DryRun && r.report.Sent > 0 && r.notifier != nil {
		summary := outreach.NewRunSummary(r.report.RunID, r.candidate, r.records, r.now().UTC())
		if err := r.notifier.SendRunSummary(ctx, summary); err != nil {
			r.logger.Warn("sending run summary failed", zap.Error(err))
			r.report.note("run summary was not delivered")
		}
	}

	r.report.State = StateDone
	r.logger.Info("dispatch run finished",
		zap.String("stop_reason", string(r.report.StopReason)),
		zap.Int("scanned", r.report.Scanned),
		zap.Int("matched", r.report.Matched),
		zap.Int("sent", r.report.Sent),
		zap.Int("already_applied", r.report.AlreadyApplied),
		zap.Int("missing_contact", r.report.MissingContact),
		zap.Int("skipped_old", r.report.SkippedOld),
		zap.Int("not_matched", r.report.NotMatched),
		zap.Int("missing_material", r.report.MissingMaterial),
		zap.Int("pages", r.report.Pages),
	)
	return nil
}

func (d *Dispatcher) recordJobMetrics(r *Report) {
	d.metrics.DispatchJobs("sent", r.Sent)
	d.metrics.DispatchJobs("already_applied", r.AlreadyApplied)
	d.metrics.DispatchJobs("missing_contact", r.MissingContact)
	d.metrics.DispatchJobs("skipped_old", r.SkippedOld)
	d.metrics.DispatchJobs("not_matched", r.NotMatched)
	d.metrics.DispatchJobs("missing_material", r.MissingMaterial)
}
