// Package store defines the persistence boundary for postings, candidates and the application ledger.
package store

import (
	"context"
	"errors"

	"github.com/spigell/auto-applier/internal/model"
)

var ErrNotFound = errors.New("not found")

// JobReader reads postings in ascending key order.
type JobReader interface {
	// JobsAfter is the primary indexed read: up to limit postings with key > after.
	JobsAfter(ctx context.Context, after string, limit int) ([]model.JobPosting, error)
	// ScanJobsAfter is the fallback path. It does not rely on the key index and may be slower.
	// It returns the limit smallest keys greater than after, in any order.
	ScanJobsAfter(ctx context.Context, after string, limit int) ([]model.JobPosting, error)
}

type JobStore interface {
	JobReader
	GetJobs(ctx context.Context, ids []string) ([]model.JobPosting, error)
	JobsByCategory(ctx context.Context, category string, limit int) ([]model.JobPosting, error)
	SetJobEmbedding(ctx context.Context, jobID string, e model.Embedding) error
	UpsertJob(ctx context.Context, job model.JobPosting) error
}

type CandidateStore interface {
	GetCandidate(ctx context.Context, id string) (*model.CandidateProfile, error)
	ListAutoApplyCandidates(ctx context.Context) ([]model.CandidateProfile, error)
	SetCandidateEmbedding(ctx context.Context, candidateID string, e model.Embedding) error
	SetCursor(ctx context.Context, candidateID string, cursor model.Cursor) error
	SetMatchStats(ctx context.Context, candidateID string, stats model.MatchStats) error
	UpsertCandidate(ctx context.Context, c model.CandidateProfile) error
}

// Ledger is the application ledger keyed by (candidate, job).
type Ledger interface {
	HasApplied(ctx context.Context, candidateID, jobID string) (bool, error)
	// RecordApplication inserts the record only if none exists for the key.
	// It reports whether a new record was created.
	RecordApplication(ctx context.Context, rec model.ApplicationRecord) (bool, error)
	ListApplications(ctx context.Context, candidateID string) ([]model.ApplicationRecord, error)
}

// Store is implemented by every backend.
type Store interface {
	JobStore
	CandidateStore
	Ledger
	Close() error
}
