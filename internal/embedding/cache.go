package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/model"
)

// Mode controls what the cache does on a miss.
type Mode int

const (
	// Refresh calls the provider on a miss and persists the result.
	Refresh Mode = iota
	// ReadOnly only returns stored vectors that are still valid.
	ReadOnly
)

func (m Mode) String() string {
	if m == ReadOnly {
		return "read_only"
	}
	return "refresh"
}

// JobWriter persists job embeddings.
type JobWriter interface {
	SetJobEmbedding(ctx context.Context, jobID string, e model.Embedding) error
}

// CandidateWriter persists profile embeddings.
type CandidateWriter interface {
	SetCandidateEmbedding(ctx context.Context, candidateID string, e model.Embedding) error
}

// Cache decides whether a stored vector can be reused and refreshes it otherwise.
type Cache struct {
	provider   ai.Embedder
	jobs       JobWriter
	candidates CandidateWriter
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewCache creates a cache. m may be nil.
func NewCache(provider ai.Embedder, jobs JobWriter, candidates CandidateWriter, m *metrics.Metrics, log *zap.Logger) (*Cache, error) {
	if provider == nil {
		return nil, errors.New("embedding provider is required")
	}
	if jobs == nil || candidates == nil {
		return nil, errors.New("embedding writers are required")
	}

	return &Cache{
		provider:   provider,
		jobs:       jobs,
		candidates: candidates,
		metrics:    m,
		logger:     logger.WithCommonFields(log, provider.Provider(), provider.Model()),
	}, nil
}

// Model is the tag every vector written by this cache carries.
func (c *Cache) Model() string { return c.provider.Model() }

// Job returns the embedding of a posting, or nil when the posting has no text
// or, in ReadOnly mode, no valid stored vector. On refresh job.Embedding is updated in place.
func (c *Cache) Job(ctx context.Context, job *model.JobPosting, mode Mode) ([]float32, error) {
	text := JobText(job)
	vector, fresh, err := c.resolve(ctx, "job", job.Embedding, text, mode)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	if fresh == nil {
		return vector, nil
	}

	if err := c.jobs.SetJobEmbedding(ctx, job.ID, *fresh); err != nil {
		return nil, fmt.Errorf("storing embedding for job %s: %w", job.ID, err)
	}
	job.Embedding = *fresh

	return vector, nil
}

// Candidate is the profile counterpart of Job.
func (c *Cache) Candidate(ctx context.Context, candidate *model.CandidateProfile, mode Mode) ([]float32, error) {
	text := CandidateText(candidate)
	vector, fresh, err := c.resolve(ctx, "candidate", candidate.ProfileEmbedding, text, mode)
	if err != nil {
		return nil, fmt.Errorf("candidate %s: %w", candidate.ID, err)
	}
	if fresh == nil {
		return vector, nil
	}

	if err := c.candidates.SetCandidateEmbedding(ctx, candidate.ID, *fresh); err != nil {
		return nil, fmt.Errorf("storing embedding for candidate %s: %w", candidate.ID, err)
	}
	candidate.ProfileEmbedding = *fresh

	return vector, nil
}

// resolve returns the vector to use and, when the provider was called, the embedding to persist.
func (c *Cache) resolve(ctx context.Context, entity string, stored model.Embedding, text string, mode Mode) ([]float32, *model.Embedding, error) {
	if text == "" {
		c.metrics.EmbeddingLookup(entity, "no_text")
		return nil, nil, nil
	}

	if Valid(stored, text, c.provider.Model()) {
		c.metrics.EmbeddingLookup(entity, "hit")
		return stored.Vector, nil, nil
	}

	if mode == ReadOnly {
		c.metrics.EmbeddingLookup(entity, "skipped")
		return nil, nil, nil
	}

	vector, err := ai.EmbedOne(ctx, c.provider, text)
	if err != nil {
		c.metrics.EmbeddingLookup(entity, "error")
		return nil, nil, fmt.Errorf("requesting embedding: %w", err)
	}
	c.metrics.EmbeddingLookup(entity, "miss")

	c.logger.Debug("embedding refreshed", zap.String("entity", entity), zap.Int("dimensions", len(vector)))

	return vector, &model.Embedding{Vector: vector, Hash: Hash(text), Model: c.provider.Model()}, nil
}
