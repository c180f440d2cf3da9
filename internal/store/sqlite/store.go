package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/store"
)

var _ store.Store = (*Store)(nil)

const jobColumns = `id, title, description, category, location, contact_email, source_url, created_at, embedding, embedding_hash, embedding_model`

const candidateColumns = `id, name, title, bio, email, cv_path, cv_url, photo_path, auto_apply_enabled, last_auto_apply,
	profile_embedding, profile_embedding_hash, profile_embedding_model, match_stats`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.JobPosting, error) {
	var (
		job       model.JobPosting
		createdAt int64
		vector    sql.NullString
	)
	err := row.Scan(&job.ID, &job.Title, &job.Description, &job.Category, &job.Location, &job.ContactEmail,
		&job.SourceURL, &createdAt, &vector, &job.Embedding.Hash, &job.Embedding.Model)
	if err != nil {
		return job, err
	}
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	if job.Embedding.Vector, err = decodeVector(vector); err != nil {
		return job, fmt.Errorf("job %s: %w", job.ID, err)
	}
	return job, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]model.JobPosting, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
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
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id > ? ORDER BY id LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// ScanJobsAfter reads the table without the primary key index.
func (s *Store) ScanJobsAfter(ctx context.Context, after string, limit int) ([]model.JobPosting, error) {
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs NOT INDEXED WHERE id > ? ORDER BY id LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) GetJobs(ctx context.Context, ids []string) ([]model.JobPosting, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("getting jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) JobsByCategory(ctx context.Context, category string, limit int) ([]model.JobPosting, error) {
	jobs, err := s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE category = ? COLLATE NOCASE ORDER BY id LIMIT ?`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs by category: %w", err)
	}
	return jobs, nil
}

func (s *Store) SetJobEmbedding(ctx context.Context, jobID string, e model.Embedding) error {
	vector, err := encodeVector(e.Vector)
	if err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET embedding = ?, embedding_hash = ?, embedding_model = ? WHERE id = ?`,
		vector, e.Hash, e.Model, jobID)
	if err != nil {
		return fmt.Errorf("updating job embedding: %w", err)
	}
	return expectOne(res)
}

func (s *Store) UpsertJob(ctx context.Context, job model.JobPosting) error {
	vector, err := encodeVector(job.Embedding.Vector)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			location = excluded.location,
			contact_email = excluded.contact_email,
			source_url = excluded.source_url,
			created_at = excluded.created_at`,
		job.ID, job.Title, job.Description, job.Category, job.Location, job.ContactEmail, job.SourceURL,
		job.CreatedAt.UnixMilli(), vector, job.Embedding.Hash, job.Embedding.Model)
	if err != nil {
		return fmt.Errorf("upserting job %s: %w", job.ID, err)
	}
	return nil
}

func scanCandidate(row scanner) (*model.CandidateProfile, error) {
	var (
		c       model.CandidateProfile
		enabled int
		cursor  int64
		vector  sql.NullString
		stats   sql.NullString
	)
	err := row.Scan(&c.ID, &c.Name, &c.Title, &c.Bio, &c.Email, &c.CVPath, &c.CVURL, &c.PhotoPath, &enabled, &cursor,
		&vector, &c.ProfileEmbedding.Hash, &c.ProfileEmbedding.Model, &stats)
	if err != nil {
		return nil, err
	}
	c.AutoApplyEnabled = enabled != 0
	c.LastAutoApply = model.CursorFromMillis(cursor)
	if c.ProfileEmbedding.Vector, err = decodeVector(vector); err != nil {
		return nil, fmt.Errorf("candidate %s: %w", c.ID, err)
	}
	if stats.Valid && stats.String != "" {
		c.MatchStats = &model.MatchStats{}
		if err := json.Unmarshal([]byte(stats.String), c.MatchStats); err != nil {
			return nil, fmt.Errorf("candidate %s: decoding match stats: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*model.CandidateProfile, error) {
	c, err := scanCandidate(s.conn.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting candidate %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListAutoApplyCandidates(ctx context.Context) ([]model.CandidateProfile, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE auto_apply_enabled = 1 ORDER BY id`)
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
	vector, err := encodeVector(e.Vector)
	if err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE candidates SET profile_embedding = ?, profile_embedding_hash = ?, profile_embedding_model = ? WHERE id = ?`,
		vector, e.Hash, e.Model, candidateID)
	if err != nil {
		return fmt.Errorf("updating profile embedding: %w", err)
	}
	return expectOne(res)
}

func (s *Store) SetCursor(ctx context.Context, candidateID string, cursor model.Cursor) error {
	res, err := s.conn.ExecContext(ctx, `UPDATE candidates SET last_auto_apply = ? WHERE id = ?`, cursor.UnixMilli(), candidateID)
	if err != nil {
		return fmt.Errorf("updating cursor: %w", err)
	}
	return expectOne(res)
}

func (s *Store) SetMatchStats(ctx context.Context, candidateID string, stats model.MatchStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding match stats: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, `UPDATE candidates SET match_stats = ? WHERE id = ?`, string(data), candidateID)
	if err != nil {
		return fmt.Errorf("updating match stats: %w", err)
	}
	return expectOne(res)
}

func (s *Store) UpsertCandidate(ctx context.Context, c model.CandidateProfile) error {
	vector, err := encodeVector(c.ProfileEmbedding.Vector)
	if err != nil {
		return err
	}
	enabled := 0
	if c.AutoApplyEnabled {
		enabled = 1
	}
	_, err = s.conn.ExecContext(ctx, `INSERT INTO candidates
		(id, name, title, bio, email, cv_path, cv_url, photo_path, auto_apply_enabled, last_auto_apply,
		 profile_embedding, profile_embedding_hash, profile_embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			title = excluded.title,
			bio = excluded.bio,
			email = excluded.email,
			cv_path = excluded.cv_path,
			cv_url = excluded.cv_url,
			photo_path = excluded.photo_path,
			auto_apply_enabled = excluded.auto_apply_enabled`,
		c.ID, c.Name, c.Title, c.Bio, c.Email, c.CVPath, c.CVURL, c.PhotoPath, enabled, c.LastAutoApply.UnixMilli(),
		vector, c.ProfileEmbedding.Hash, c.ProfileEmbedding.Model)
	if err != nil {
		return fmt.Errorf("upserting candidate %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) HasApplied(ctx context.Context, candidateID, jobID string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM applications WHERE candidate_id = ? AND job_id = ?`, candidateID, jobID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking application: %w", err)
	}
	return count > 0, nil
}

func (s *Store) RecordApplication(ctx context.Context, rec model.ApplicationRecord) (bool, error) {
	kw, err := json.Marshal(nonNil(rec.MatchedKeywords))
	if err != nil {
		return false, fmt.Errorf("encoding matched keywords: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, `INSERT INTO applications
		(candidate_id, job_id, job_title, category, applied_at, match_score, keyword_score, matched_keywords)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (candidate_id, job_id) DO NOTHING`,
		rec.CandidateID, rec.JobID, rec.JobTitle, rec.Category, rec.AppliedAt.UnixMilli(),
		rec.MatchScore, rec.KeywordScore, string(kw))
	if err != nil {
		return false, fmt.Errorf("recording application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recording application: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ListApplications(ctx context.Context, candidateID string) ([]model.ApplicationRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT candidate_id, job_id, job_title, category, applied_at, match_score, keyword_score, matched_keywords
		FROM applications WHERE candidate_id = ? ORDER BY job_id`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	out := []model.ApplicationRecord{}
	for rows.Next() {
		var (
			rec       model.ApplicationRecord
			appliedAt int64
			kw        string
		)
		if err := rows.Scan(&rec.CandidateID, &rec.JobID, &rec.JobTitle, &rec.Category, &appliedAt,
			&rec.MatchScore, &rec.KeywordScore, &kw); err != nil {
			return nil, err
		}
		rec.AppliedAt = time.UnixMilli(appliedAt).UTC()
		if err := json.Unmarshal([]byte(kw), &rec.MatchedKeywords); err != nil {
			return nil, fmt.Errorf("decoding matched keywords: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeVector(v []float32) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding vector: %w", err)
	}
	return string(data), nil
}

func decodeVector(v sql.NullString) ([]float32, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, fmt.Errorf("decoding vector: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
