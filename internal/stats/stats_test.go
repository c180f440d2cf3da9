package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/ai/aitest"
	"github.com/spigell/auto-applier/internal/embedding"
	"github.com/spigell/auto-applier/internal/keywords"
	"github.com/spigell/auto-applier/internal/matching"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/store/memstore"
)

func seed(t *testing.T) (*memstore.Store, *aitest.Embedder) {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()

	candidate := model.CandidateProfile{ID: "cand-1", Title: "HSE Officer", Bio: "NEBOSH certified site safety", AutoApplyEnabled: true}
	if err := s.UpsertCandidate(ctx, candidate); err != nil {
		t.Fatalf("seeding candidate: %v", err)
	}

	jobs := []model.JobPosting{
		{ID: "a", Title: "Safety Officer", Description: "NEBOSH required", ContactEmail: "a@example.com"},
		{ID: "b", Title: "HSE Officer", Description: "Site safety", ContactEmail: ""},
		{ID: "c", Title: "Accountant", Description: "Payroll", ContactEmail: "c@example.com"},
		{ID: "d", Title: "Senior HSE Officer", Description: "Oil and gas", ContactEmail: "d@example.com"},
	}
	for _, job := range jobs {
		if err := s.UpsertJob(ctx, job); err != nil {
			t.Fatalf("seeding job: %v", err)
		}
	}

	embedder := aitest.NewEmbedder("test-model")
	unit := make([]float32, 16)
	unit[0] = 1
	other := make([]float32, 16)
	other[1] = 1
	embedder.Vectors[embedding.CandidateText(&candidate)] = unit
	embedder.Vectors[embedding.JobText(&jobs[2])] = other
	return s, embedder
}

func newEstimator(t *testing.T, s *memstore.Store, embedder *aitest.Embedder, m *metrics.Metrics) *Estimator {
	t.Helper()
	lex, err := keywords.DefaultLexicon()
	if err != nil {
		t.Fatalf("loading lexicon: %v", err)
	}
	matcher, err := matching.New(matching.DefaultThresholds(), keywords.NewExtractor(lex))
	if err != nil {
		t.Fatalf("creating matcher: %v", err)
	}
	cache, err := embedding.NewCache(embedder, s, s, m, zap.NewNop())
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	e, err := New(s, cache, matcher, Config{MaxDuration: time.Minute, PageSize: 3}, m, zap.NewNop())
	if err != nil {
		t.Fatalf("creating estimator: %v", err)
	}
	return e
}

func TestEstimateReadOnly(t *testing.T) {
	s, embedder := seed(t)
	m := metrics.New()
	e := newEstimator(t, s, embedder, m)

	snapshot, err := e.Estimate(context.Background(), "cand-1", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snapshot.TotalJobs != 4 || snapshot.TotalWithContact != 3 {
		t.Fatalf("unexpected totals: %+v", snapshot)
	}
	// "a" shares the "officer" title token, "d" contains the whole title, "c" does not match
	if snapshot.MatchingJobs != 2 {
		t.Fatalf("expected 2 matching jobs, got %d", snapshot.MatchingJobs)
	}
	if !snapshot.Complete || snapshot.ThresholdUsed != 0.58 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if embedder.CallCount() != 0 {
		t.Fatalf("read-only estimation must not call the provider")
	}

	stored, _ := s.GetCandidate(context.Background(), "cand-1")
	if stored.MatchStats == nil || stored.MatchStats.MatchingJobs != 2 {
		t.Fatalf("snapshot was not stored: %+v", stored.MatchStats)
	}
	if !stored.LastAutoApply.IsBeginning() || s.ApplicationCount() != 0 {
		t.Fatalf("estimation must not touch the cursor or the ledger")
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "auto_applier_stats_runs_total"); err != nil || n != 1 {
		t.Fatalf("expected one stats run series, got %d (%v)", n, err)
	}
}

func TestEstimatePopulate(t *testing.T) {
	s, embedder := seed(t)
	e := newEstimator(t, s, embedder, nil)

	if _, err := e.Estimate(context.Background(), "cand-1", Options{Populate: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// profile plus the three postings with a contact
	if embedder.CallCount() != 4 {
		t.Fatalf("expected 4 provider calls, got %d", embedder.CallCount())
	}

	jobs, _ := s.GetJobs(context.Background(), []string{"a", "b"})
	if jobs[0].Embedding.Empty() {
		t.Fatalf("expected embedding for a to be stored")
	}
	if !jobs[1].Embedding.Empty() {
		t.Fatalf("postings without contact are not embedded")
	}
}

func TestEstimateBudget(t *testing.T) {
	s, embedder := seed(t)
	e := newEstimator(t, s, embedder, nil)

	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		tick = tick.Add(30 * time.Second)
		return tick
	}

	snapshot, err := e.Estimate(context.Background(), "cand-1", Options{MaxDuration: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Complete || snapshot.TotalJobs >= 4 {
		t.Fatalf("expected a partial snapshot, got %+v", snapshot)
	}
}

func TestEstimateProviderError(t *testing.T) {
	s, embedder := seed(t)
	boom := errors.New("quota exceeded")
	embedder.Err = boom
	e := newEstimator(t, s, embedder, nil)

	if _, err := e.Estimate(context.Background(), "cand-1", Options{Populate: true}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	stored, _ := s.GetCandidate(context.Background(), "cand-1")
	if stored.MatchStats != nil {
		t.Fatalf("failed estimation must not store a snapshot")
	}
}
