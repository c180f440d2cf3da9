// Package storetest holds the behavior every store.Store backend must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/store"
)

// Run exercises a fresh store returned by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{name: "jobs are read in key order", fn: testJobsOrdered},
		{name: "scan path agrees with primary", fn: testScanAgrees},
		{name: "get jobs by ids", fn: testGetJobs},
		{name: "jobs by category", fn: testJobsByCategory},
		{name: "job embeddings", fn: testJobEmbedding},
		{name: "candidate round trip", fn: testCandidate},
		{name: "candidate cursor and stats", fn: testCursorAndStats},
		{name: "auto apply candidates", fn: testAutoApplyCandidates},
		{name: "ledger is write once", fn: testLedger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func seedJobs(t *testing.T, s store.Store, n int) {
	t.Helper()
	// inserted in reverse to make sure order comes from keys
	for i := n - 1; i >= 0; i-- {
		job := model.JobPosting{
			ID:           fmt.Sprintf("job-%03d", i),
			Title:        fmt.Sprintf("Engineer %d", i),
			Description:  "Description",
			Category:     []string{"Civil", "Planning", "HSE"}[i%3],
			Location:     "Riyadh",
			ContactEmail: fmt.Sprintf("hr%d@example.com", i),
			SourceURL:    fmt.Sprintf("https://jobs.example.com/%d", i),
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.UpsertJob(context.Background(), job); err != nil {
			t.Fatalf("seeding job: %v", err)
		}
	}
}

func ids(jobs []model.JobPosting) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func testJobsOrdered(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedJobs(t, s, 7)

	first, err := s.JobsAfter(ctx, "", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(ids(first)) != "[job-000 job-001 job-002]" {
		t.Fatalf("unexpected first page: %v", ids(first))
	}

	rest, err := s.JobsAfter(ctx, "job-004", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(ids(rest)) != "[job-005 job-006]" {
		t.Fatalf("unexpected last page: %v", ids(rest))
	}

	job := first[1]
	if job.Title != "Engineer 1" || job.ContactEmail != "hr1@example.com" || !job.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected job fields: %+v", job)
	}

	empty, err := s.JobsAfter(ctx, "job-006", 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got %v, %v", ids(empty), err)
	}
}

func testScanAgrees(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedJobs(t, s, 9)

	p := store.NewPaginator(s, "", 4, nil)
	var seen []string
	for {
		page, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page) == 0 {
			break
		}
		seen = append(seen, ids(page)...)
	}
	if len(seen) != 9 || seen[0] != "job-000" || seen[8] != "job-008" {
		t.Fatalf("unexpected walk: %v", seen)
	}

	scanned, err := s.ScanJobsAfter(ctx, "job-002", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := map[string]bool{}
	for _, id := range ids(scanned) {
		got[id] = true
	}
	if len(got) != 3 || !got["job-003"] || !got["job-004"] || !got["job-005"] {
		t.Fatalf("expected the three smallest keys after job-002, got %v", ids(scanned))
	}
}

func testGetJobs(t *testing.T, s store.Store) {
	seedJobs(t, s, 5)

	jobs, err := s.GetJobs(context.Background(), []string{"job-003", "missing", "job-001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := map[string]bool{}
	for _, id := range ids(jobs) {
		found[id] = true
	}
	if len(jobs) != 2 || !found["job-001"] || !found["job-003"] {
		t.Fatalf("unexpected jobs: %v", ids(jobs))
	}

	none, err := s.GetJobs(context.Background(), nil)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no jobs for empty ids, got %v, %v", ids(none), err)
	}
}

func testJobsByCategory(t *testing.T, s store.Store) {
	seedJobs(t, s, 9)

	jobs, err := s.JobsByCategory(context.Background(), "Planning", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected limit to apply, got %v", ids(jobs))
	}
	for _, job := range jobs {
		if job.Category != "Planning" {
			t.Fatalf("unexpected category %q", job.Category)
		}
	}
}

func testJobEmbedding(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedJobs(t, s, 2)

	e := model.Embedding{Vector: []float32{0.25, -1, 3.5}, Hash: "abc", Model: "m1"}
	if err := s.SetJobEmbedding(ctx, "job-001", e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobs, err := s.GetJobs(ctx, []string{"job-001", "job-000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, job := range jobs {
		switch job.ID {
		case "job-001":
			if job.Embedding.Hash != "abc" || job.Embedding.Model != "m1" || len(job.Embedding.Vector) != 3 || job.Embedding.Vector[2] != 3.5 {
				t.Fatalf("unexpected embedding: %+v", job.Embedding)
			}
		case "job-000":
			if !job.Embedding.Empty() {
				t.Fatalf("expected no embedding on job-000")
			}
		}
	}

	if err := s.SetJobEmbedding(ctx, "missing", e); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCandidate(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetCandidate(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	c := model.CandidateProfile{
		ID:               "cand-1",
		Name:             "Sara",
		Title:            "Planning Engineer",
		Bio:              "Primavera P6",
		Email:            "sara@example.com",
		CVURL:            "https://cv.example.com/sara.pdf",
		AutoApplyEnabled: true,
	}
	if err := s.UpsertCandidate(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := model.Embedding{Vector: []float32{1, 2}, Hash: "h", Model: "m"}
	if err := s.SetCandidateEmbedding(ctx, "cand-1", e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetCandidate(ctx, "cand-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != c.Title || got.CVURL != c.CVURL || !got.AutoApplyEnabled || !got.LastAutoApply.IsBeginning() {
		t.Fatalf("unexpected candidate: %+v", got)
	}
	if got.ProfileEmbedding.Hash != "h" || len(got.ProfileEmbedding.Vector) != 2 {
		t.Fatalf("unexpected profile embedding: %+v", got.ProfileEmbedding)
	}
	if got.MatchStats != nil {
		t.Fatalf("expected no stats yet")
	}
}

func testCursorAndStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.UpsertCandidate(ctx, model.CandidateProfile{ID: "cand-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	at := base.Add(36 * time.Hour)
	if err := s.SetCursor(ctx, "cand-1", model.FromTimestamp(at)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := model.MatchStats{TotalJobs: 10, TotalWithContact: 8, MatchingJobs: 3, UpdatedAt: at, ThresholdUsed: 0.58, Complete: true}
	if err := s.SetMatchStats(ctx, "cand-1", stats); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetCandidate(ctx, "cand-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.LastAutoApply.UnixMilli() != at.UnixMilli() {
		t.Fatalf("expected cursor %s, got %s", at, got.LastAutoApply)
	}
	if got.MatchStats == nil || got.MatchStats.MatchingJobs != 3 || !got.MatchStats.Complete || got.MatchStats.ThresholdUsed != 0.58 {
		t.Fatalf("unexpected stats: %+v", got.MatchStats)
	}

	if err := s.SetCursor(ctx, "nobody", model.FromBeginning()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testAutoApplyCandidates(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, c := range []model.CandidateProfile{
		{ID: "b", AutoApplyEnabled: true},
		{ID: "a", AutoApplyEnabled: true},
		{ID: "c", AutoApplyEnabled: false},
	} {
		if err := s.UpsertCandidate(ctx, c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	list, err := s.ListAutoApplyCandidates(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected candidates: %+v", list)
	}
}

func testLedger(t *testing.T, s store.Store) {
	ctx := context.Background()

	applied, err := s.HasApplied(ctx, "cand-1", "job-001")
	if err != nil || applied {
		t.Fatalf("expected no application yet, got %v, %v", applied, err)
	}

	rec := model.ApplicationRecord{
		CandidateID:     "cand-1",
		JobID:           "job-001",
		JobTitle:        "Planning Engineer",
		Category:        "Planning",
		AppliedAt:       base,
		MatchScore:      0.81,
		KeywordScore:    0.5,
		MatchedKeywords: []string{"p6", "planning"},
	}
	created, err := s.RecordApplication(ctx, rec)
	if err != nil || !created {
		t.Fatalf("expected record to be created, got %v, %v", created, err)
	}

	again := rec
	again.MatchScore = 0.1
	created, err = s.RecordApplication(ctx, again)
	if err != nil || created {
		t.Fatalf("expected second insert to be a no-op, got %v, %v", created, err)
	}

	applied, err = s.HasApplied(ctx, "cand-1", "job-001")
	if err != nil || !applied {
		t.Fatalf("expected application to exist, got %v, %v", applied, err)
	}
	if other, _ := s.HasApplied(ctx, "cand-2", "job-001"); other {
		t.Fatalf("ledger must be keyed by candidate")
	}

	list, err := s.ListApplications(ctx, "cand-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].MatchScore != 0.81 || len(list[0].MatchedKeywords) != 2 || !list[0].AppliedAt.Equal(base) {
		t.Fatalf("expected the original record to be kept, got %+v", list)
	}
}
