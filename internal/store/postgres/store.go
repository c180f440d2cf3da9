package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/store"
)

var _ store.Store = (*Store)(nil)

const jobColumns = `id, title, description, category, location, contact_email, source_url, created_at, embedding, embedding_hash, embedding_model`

const candidateColumns = `id, name, title, bio, email, cv_path, cv_url, photo_path, auto_apply_enabled, last_auto_apply,
	profile_embedding, profile_embedding_hash, profile_embedding_model, match_stats`

func scanJob(row pgx.Row) (model.JobPosting, error) {
	var job model.JobPosting
	err := row.Scan(&job.ID, &job.Title, &job.Description, &job.Category, &job.Location, &job.ContactEmail,
		&job.SourceURL, &job.CreatedAt, &job.Embedding.Vector, &job.Embedding.Hash, &job.Embedding.Model)
	job.CreatedAt = job.CreatedAt.UTC()
	return job, err
}

func collectJobs(rows pgx.Rows) ([]model.JobPosting, error) {
	defer rows.Close()

	var jobs []model.JobPosting
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) JobsAfter(ctx context.Context, after string, limit int) ([]model.JobPosting, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return collectJobs(rows)
}

// ScanJobsAfter runs the same read with index scans disabled for the transaction.
func (s *Store) ScanJobsAfter(ctx context.Context, after string, limit int) ([]model.JobPosting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning jobs: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET LOCAL enable_indexscan = off; SET LOCAL enable_bitmapscan = off; SET LOCAL enable_indexonlyscan = off`); err != nil {
		return nil, fmt.Errorf("scanning jobs: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning jobs: %w", err)
	}
	return jobs, tx.Commit(ctx)
}

func (s *Store) GetJobs(ctx context.Context, ids []string) ([]model.JobPosting, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("getting jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) JobsByCategory(ctx context.Context, category string, limit int) ([]model.JobPosting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE lower(category) = lower($1) ORDER BY id LIMIT $2`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs by category: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) SetJobEmbedding(ctx context.Context, jobID string, e model.Embedding) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET embedding = $1, embedding_hash = $2, embedding_model = $3 WHERE id = $4`,
		e.Vector, e.Hash, e.Model, jobID)
	if err != nil {
		return fmt.Errorf("updating job embedding: %w", err)
	}
	return expectOne(tag)
}

func (s *Store) UpsertJob(ctx context.Context, job model.JobPosting) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			location = EXCLUDED.location,
			contact_email = EXCLUDED.contact_email,
			source_url = EXCLUDED.source_url,
			created_at = EXCLUDED.created_at`,
		job.ID, job.Title, job.Description, job.Category, job.Location, job.ContactEmail, job.SourceURL,
		job.CreatedAt, job.Embedding.Vector, job.Embedding.Hash, job.Embedding.Model)
	if err != nil {
		return fmt.Errorf("upserting job %s: %w", job.ID, err)
	}
	return nil
}

func scanCandidate(row pgx.Row) (*model.CandidateProfile, error) {
	var (
		c      model.CandidateProfile
		cursor int64
		stats  []byte
	)
	err := row.Scan(&c.ID, &c.Name, &c.Title, &c.Bio, &c.Email, &c.CVPath, &c.CVURL, &c.PhotoPath,
		&c.AutoApplyEnabled, &cursor, &c.ProfileEmbedding.Vector, &c.ProfileEmbedding.Hash, &c.ProfileEmbedding.Model, &stats)
	if err != nil {
		return nil, err
	}
	c.LastAutoApply = model.CursorFromMillis(cursor)
	if len(stats) > 0 {
		c.MatchStats = &model.MatchStats{}
		if err := json.Unmarshal(stats, c.MatchStats); err != nil {
			return nil, fmt.Errorf("candidate %s: decoding match stats: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*model.CandidateProfile, error) {
	c, err := scanCandidate(s.pool.QueryRow(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting candidate %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListAutoApplyCandidates(ctx context.Context) ([]model.CandidateProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE auto_apply_enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	defer rows.Close()

	var out []model.CandidateProfile
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) SetCandidateEmbedding(ctx context.Context, candidateID string, e model.Embedding) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE candidates SET profile_embedding = $1, profile_embedding_hash = $2, profile_embedding_model = $3 WHERE id = $4`,
		e.Vector, e.Hash, e.Model, candidateID)
	if err != nil {
		return fmt.Errorf("updating profile embedding: %w", err)
	}
	return expectOne(tag)
}

func (s *Store) SetCursor(ctx context.Context, candidateID string, cursor model.Cursor) error {
	tag, err := s.pool.Exec(ctx, `UPDATE candidates SET last_auto_apply = $1 WHERE id = $2`, cursor.UnixMilli(), candidateID)
	if err != nil {
		return fmt.Errorf("updating cursor: %w", err)
	}
	return expectOne(tag)
}

func (s *Store) SetMatchStats(ctx context.Context, candidateID string, stats model.MatchStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding match stats: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE candidates SET match_stats = $1 WHERE id = $2`, data, candidateID)
	if err != nil {
		return fmt.Errorf("updating match stats: %w", err)
	}
	return expectOne(tag)
}

func (s *Store) UpsertCandidate(ctx context.Context, c model.CandidateProfile) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO candidates
		(id, name, title, bio, email, cv_path, cv_url, photo_path, auto_apply_enabled, last_auto_apply,
		 profile_embedding, profile_embedding_hash, profile_embedding_model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			title = EXCLUDED.title,
			bio = EXCLUDED.bio,
			email = EXCLUDED.email,
			cv_path = EXCLUDED.cv_path,
			cv_url = EXCLUDED.cv_url,
			photo_path = EXCLUDED.photo_path,
			auto_apply_enabled = EXCLUDED.auto_apply_enabled`,
		c.ID, c.Name, c.Title, c.Bio, c.Email, c.CVPath, c.CVURL, c.PhotoPath, c.AutoApplyEnabled, c.LastAutoApply.UnixMilli(),
		c.ProfileEmbedding.Vector, c.ProfileEmbedding.Hash, c.ProfileEmbedding.Model)
	if err != nil {
		return fmt.Errorf("upserting candidate %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) HasApplied(ctx context.Context, candidateID, jobID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applications WHERE candidate_id = $1 AND job_id = $2)`, candidateID, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking application: %w", err)
	}
	return exists, nil
}

func (s *Store) RecordApplication(ctx context.Context, rec model.ApplicationRecord) (bool, error) {
	keywords := rec.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO applications
		(candidate_id, job_id, job_title, category, applied_at, match_score, keyword_score, matched_keywords)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (candidate_id, job_id) DO NOTHING`,
		rec.CandidateID, rec.JobID, rec.JobTitle, rec.Category, rec.AppliedAt, rec.MatchScore, rec.KeywordScore, keywords)
	if err != nil {
		return false, fmt.Errorf("recording application: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListApplications(ctx context.Context, candidateID string) ([]model.ApplicationRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT candidate_id, job_id, job_title, category, applied_at, match_score, keyword_score, matched_keywords
		FROM applications WHERE candidate_id = $1 ORDER BY job_id`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	out := []model.ApplicationRecord{}
	for rows.Next() {
		var rec model.ApplicationRecord
		if err := rows.Scan(&rec.CandidateID, &rec.JobID, &rec.JobTitle, &rec.Category, &rec.AppliedAt,
			&rec.MatchScore, &rec.KeywordScore, &rec.MatchedKeywords); err != nil {
			return nil, err
		}
		rec.AppliedAt = rec.AppliedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func expectOne(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
