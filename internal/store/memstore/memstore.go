// Package memstore is an in-process store.Store. It backs local runs without a database
// and the tests of packages that depend on the store interfaces.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	jobs         map[string]model.JobPosting
	candidates   map[string]model.CandidateProfile
	applications map[string]map[string]model.ApplicationRecord
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		jobs:         map[string]model.JobPosting{},
		candidates:   map[string]model.CandidateProfile{},
		applications: map[string]map[string]model.ApplicationRecord{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) JobsAfter(_ context.Context, after string, limit int) ([]model.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.after(after, limit), nil
}

func (s *Store) ScanJobsAfter(_ context.Context, after string, limit int) ([]model.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.after(after, limit), nil
}

func (s *Store) after(after string, limit int) []model.JobPosting {
	keys := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		if id > after {
			keys = append(keys, id)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]model.JobPosting, 0, len(keys))
	for _, id := range keys {
		out = append(out, s.jobs[id])
	}
	return out
}

func (s *Store) GetJobs(_ context.Context, ids []string) ([]model.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.JobPosting, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *Store) JobsByCategory(_ context.Context, category string, limit int) ([]model.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.JobPosting
	for _, job := range s.after("", 0) {
		if strings.EqualFold(job.Category, category) {
			out = append(out, job)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) SetJobEmbedding(_ context.Context, jobID string, e model.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.Embedding = e
	s.jobs[jobID] = job
	return nil
}

func (s *Store) UpsertJob(_ context.Context, job model.JobPosting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetCandidate(_ context.Context, id string) (*model.CandidateProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListAutoApplyCandidates(_ context.Context) ([]model.CandidateProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.CandidateProfile
	for _, c := range s.candidates {
		if c.AutoApplyEnabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) updateCandidate(id string, fn func(c *model.CandidateProfile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&c)
	s.candidates[id] = c
	return nil
}

func (s *Store) SetCandidateEmbedding(_ context.Context, candidateID string, e model.Embedding) error {
	return s.updateCandidate(candidateID, func(c *model.CandidateProfile) { c.ProfileEmbedding = e })
}

func (s *Store) SetCursor(_ context.Context, candidateID string, cursor model.Cursor) error {
	return s.updateCandidate(candidateID, func(c *model.CandidateProfile) { c.LastAutoApply = cursor })
}

func (s *Store) SetMatchStats(_ context.Context, candidateID string, stats model.MatchStats) error {
	return s.updateCandidate(candidateID, func(c *model.CandidateProfile) { c.MatchStats = &stats })
}

func (s *Store) UpsertCandidate(_ context.Context, c model.CandidateProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.ID] = c
	return nil
}

func (s *Store) HasApplied(_ context.Context, candidateID, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.applications[candidateID][jobID]
	return ok, nil
}

func (s *Store) RecordApplication(_ context.Context, rec model.ApplicationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byJob, ok := s.applications[rec.CandidateID]
	if !ok {
		byJob = map[string]model.ApplicationRecord{}
		s.applications[rec.CandidateID] = byJob
	}
	if _, exists := byJob[rec.JobID]; exists {
		return false, nil
	}
	byJob[rec.JobID] = rec
	return true, nil
}

func (s *Store) ListApplications(_ context.Context, candidateID string) ([]model.ApplicationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ApplicationRecord, 0, len(s.applications[candidateID]))
	for _, rec := range s.applications[candidateID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

// ApplicationCount returns the total number of ledger records.
func (s *Store) ApplicationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, byJob := range s.applications {
		n += len(byJob)
	}
	return n
}
