// Package backfill fills missing or stale job embeddings across the whole corpus in batches.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/embedding"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/store"
	"github.com/spigell/auto-applier/internal/utils"
)

type Store interface {
	store.JobReader
	SetJobEmbedding(ctx context.Context, jobID string, e model.Embedding) error
}

type Config struct {
	PageSize    int
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{PageSize: 250, BatchSize: 50, MaxAttempts: 5, BaseDelay: 1500 * time.Millisecond}
}

func (c Config) Validate() error {
	if c.PageSize <= 0 || c.BatchSize <= 0 || c.MaxAttempts <= 0 {
		return fmt.Errorf("page size, batch size and attempts must be positive, got %d/%d/%d", c.PageSize, c.BatchSize, c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", c.BaseDelay)
	}
	return nil
}

// Result describes one page. NextCursor is empty when the page was empty.
type Result struct {
	Processed  int    `json:"processed"`
	Updated    int    `json:"updated"`
	Skipped    int    `json:"skipped"`
	NextCursor string `json:"nextCursor"`
}

func (r *Result) add(o Result) {
	r.Processed += o.Processed
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.NextCursor = o.NextCursor
}

type Backfiller struct {
	store    Store
	provider ai.Embedder
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger

	wait func(ctx context.Context, d time.Duration) error
}

func New(s Store, provider ai.Embedder, cfg Config, m *metrics.Metrics, log *zap.Logger) (*Backfiller, error) {
	if s == nil || provider == nil {
		return nil, errors.New("store and embedding provider are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backfiller{
		store:    s,
		provider: provider,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.WithCommonFields(log, provider.Provider(), provider.Model()),
		wait:     utils.WaitFor,
	}, nil
}

type pending struct {
	id   string
	text string
	hash string
}

// Run handles the page of postings following startAfter.
func (b *Backfiller) Run(ctx context.Context, startAfter string) (Result, error) {
	pages := store.NewPaginator(b.store, startAfter, b.cfg.PageSize, b.logger)
	page, err := pages.Next(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	if len(page) == 0 {
		return res, nil
	}
	res.NextCursor = pages.Cursor()

	tag := b.provider.Model()
	var todo []pending
	for i := range page {
		res.Processed++
		text := embedding.JobText(&page[i])
		if text == "" || embedding.Valid(page[i].Embedding, text, tag) {
			res.Skipped++
			continue
		}
		todo = append(todo, pending{id: page[i].ID, text: text, hash: embedding.Hash(text)})
	}

	for start := 0; start < len(todo); start += b.cfg.BatchSize {
		end := min(start+b.cfg.BatchSize, len(todo))
		updated, err := b.batch(ctx, todo[start:end])
		res.Updated += updated
		if err != nil {
			b.record(res)
			return res, err
		}
	}

	b.record(res)
	return res, nil
}

// RunAll keeps going until a page comes back empty.
func (b *Backfiller) RunAll(ctx context.Context, startAfter string) (Result, error) {
	var total Result
	cursor := startAfter

	for batch := 1; ; batch++ {
		res, err := b.Run(ctx, cursor)
		total.add(res)
		if err != nil {
			return total, fmt.Errorf("backfill after %q: %w", cursor, err)
		}

		b.logger.Info("backfill page done",
			zap.Int("batch", batch),
			zap.Int("processed", res.Processed),
			zap.Int("updated", res.Updated),
			zap.Int("skipped", res.Skipped),
			zap.String("last_key", res.NextCursor),
		)

		if res.NextCursor == "" || res.Processed == 0 {
			break
		}
		cursor = res.NextCursor
	}

	b.logger.Info("backfill finished",
		zap.Int("processed", total.Processed),
		zap.Int("updated", total.Updated),
		zap.Int("skipped", total.Skipped),
	)
	return total, nil
}

func (b *Backfiller) batch(ctx context.Context, items []pending) (int, error) {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.text
	}

	vectors, err := b.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	updated := 0
	tag := b.provider.Model()
	for i, item := range items {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			b.logger.Warn("provider returned no vector", zap.String("job_id", item.id))
			continue
		}
		e := model.Embedding{Vector: vectors[i], Hash: item.hash, Model: tag}
		if err := b.store.SetJobEmbedding(ctx, item.id, e); err != nil {
			return updated, fmt.Errorf("storing embedding for job %s: %w", item.id, err)
		}
		updated++
	}
	return updated, nil
}

// embed submits the batch, waiting BaseDelay times the attempt number between attempts.
func (b *Backfiller) embed(ctx context.Context, texts []string) ([][]float32, error) {
	retrier := utils.Retrier{
		MaxAttempts: b.cfg.MaxAttempts,
		BaseDelay:   b.cfg.BaseDelay,
		Wait:        b.wait,
		OnRetry: func(attempt int, err error) {
			b.metrics.ProviderRetry()
			b.logger.Warn("embedding batch failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("batch_size", len(texts)),
				zap.Error(err),
			)
		},
	}

	var vectors [][]float32
	err := retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = b.provider.Embed(ctx, texts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}
	return vectors, nil
}

func (b *Backfiller) record(res Result) {
	b.metrics.BackfillJobs("updated", res.Updated)
	b.metrics.BackfillJobs("skipped", res.Skipped)
	b.metrics.BackfillJobs("failed", res.Processed-res.Updated-res.Skipped)
}
