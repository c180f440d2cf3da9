// Package scheduler runs the periodic sweep over enabled candidates and the optional backfill.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/backfill"
	"github.com/spigell/auto-applier/internal/dispatch"
	"github.com/spigell/auto-applier/internal/lock"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/model"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, candidateID string, opts dispatch.Options) (*dispatch.Report, error)
}

type CandidateLister interface {
	ListAutoApplyCandidates(ctx context.Context) ([]model.CandidateProfile, error)
}

type Backfiller interface {
	RunAll(ctx context.Context, startAfter string) (backfill.Result, error)
}

// Config holds cron specs. An empty spec leaves the job unscheduled.
type Config struct {
	Sweep    string
	Backfill string
}

// SweepResult summarises one pass over the enabled candidates.
type SweepResult struct {
	Candidates int `json:"candidates"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Locked     int `json:"locked"`
	Sent       int `json:"sent"`
}

type Scheduler struct {
	cfg        Config
	candidates CandidateLister
	dispatcher Dispatcher
	backfiller Backfiller
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a Scheduler. backfiller may be nil when no backfill spec is set.
func New(cfg Config, candidates CandidateLister, dispatcher Dispatcher, backfiller Backfiller, m *metrics.Metrics, log *zap.Logger) (*Scheduler, error) {
	if candidates == nil || dispatcher == nil {
		return nil, errors.New("candidate lister and dispatcher are required")
	}
	if cfg.Backfill != "" && backfiller == nil {
		return nil, errors.New("backfill is scheduled but no backfiller was given")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		candidates: candidates,
		dispatcher: dispatcher,
		backfiller: backfiller,
		metrics:    m,
		logger:     log,
	}, nil
}

// Start registers the jobs and starts the cron loop. Jobs run with a context
// derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobCtx, cancel := context.WithCancel(ctx)

	if s.cfg.Sweep != "" {
		if _, err := c.AddFunc(s.cfg.Sweep, func() { s.sweep(jobCtx) }); err != nil {
			cancel()
			return fmt.Errorf("scheduling sweep %q: %w", s.cfg.Sweep, err)
		}
	}
	if s.cfg.Backfill != "" {
		if _, err := c.AddFunc(s.cfg.Backfill, func() { s.backfill(jobCtx) }); err != nil {
			cancel()
			return fmt.Errorf("scheduling backfill %q: %w", s.cfg.Backfill, err)
		}
	}

	c.Start()
	s.cron = c
	s.cancel = cancel

	s.logger.Info("scheduler started", zap.String("sweep", s.cfg.Sweep), zap.String("backfill", s.cfg.Backfill))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("scheduled sweep failed", zap.Error(err))
	}
}

// Sweep dispatches every enabled candidate one after another. A failing
// candidate is logged and does not stop the pass.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	candidates, err := s.candidates.ListAutoApplyCandidates(ctx)
	if err != nil {
		return res, fmt.Errorf("listing candidates: %w", err)
	}
	s.logger.Info("sweep started", zap.Int("candidates", len(candidates)))

	for _, c := range candidates {
		if ctx.Err() != nil {
			s.logger.Warn("sweep interrupted", zap.Error(ctx.Err()))
			break
		}
		res.Candidates++
		log := s.logger.With(zap.String(logger.FieldCandidateID, c.ID))

		report, err := s.dispatcher.Dispatch(ctx, c.ID, dispatch.Options{})
		switch {
		case errors.Is(err, lock.ErrHeld):
			res.Locked++
			s.metrics.SweepCandidate("locked")
			log.Info("candidate skipped, run already active")
		case err != nil:
			res.Failed++
			s.metrics.SweepCandidate("error")
			log.Error("candidate dispatch failed", zap.Error(err))
		default:
			res.Succeeded++
			res.Sent += report.Sent
			s.metrics.SweepCandidate("ok")
			log.Info("candidate dispatched",
				zap.Int("sent", report.Sent),
				zap.Int("scanned", report.Scanned),
				zap.String("stop_reason", string(report.StopReason)),
			)
		}
	}

	s.logger.Info("sweep finished",
		zap.Int("candidates", res.Candidates),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("locked", res.Locked),
		zap.Int("sent", res.Sent),
	)
	return res, ctx.Err()
}

func (s *Scheduler) backfill(ctx context.Context) {
	if _, err := s.backfiller.RunAll(ctx, ""); err != nil {
		s.logger.Error("scheduled backfill failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
