package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/dispatch"
	"github.com/spigell/auto-applier/internal/lock"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/outreach"
	"github.com/spigell/auto-applier/internal/stats"
	"github.com/spigell/auto-applier/internal/store"
)

const (
	maxBodyBytes = 1 << 20

	defaultListLimit = 50
	maxListLimit     = 200
	scanPageSize     = 500
)

// readBody validates the request body against the named schema and decodes it into out.
// An empty body is treated as an empty object. It writes the error response itself.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, schema string, out any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	keyErrs, err := s.schemas[schema].ValidateBytes(r.Context(), raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if len(keyErrs) > 0 {
		problems := make([]string, 0, len(keyErrs))
		for _, ke := range keyErrs {
			problems = append(problems, ke.Error())
		}
		writeJSON(w, errorResponse{Error: "invalid request", Problems: problems}, http.StatusBadRequest)
		return false
	}

	if err := json.Unmarshal(raw, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

type dispatchRequest struct {
	DryRun        bool  `json:"dryRun"`
	IgnoreCursor  bool  `json:"ignoreCursor"`
	MaxItems      int   `json:"maxItems"`
	MaxDurationMs int64 `json:"maxDurationMs"`
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "matching is not enabled")
		return
	}

	var req dispatchRequest
	if !s.readBody(w, r, "dispatch", &req) {
		return
	}

	id := mux.Vars(r)["id"]
	report, err := s.deps.Dispatcher.Dispatch(r.Context(), id, dispatch.Options{
		MaxItems:     req.MaxItems,
		MaxDuration:  time.Duration(req.MaxDurationMs) * time.Millisecond,
		DryRun:       req.DryRun,
		IgnoreCursor: req.IgnoreCursor,
	})
	if err != nil {
		s.candidateError(w, id, "dispatch", err)
		return
	}

	writeJSON(w, report, http.StatusOK)
}

type statsRequest struct {
	Populate      bool  `json:"populate"`
	MaxDurationMs int64 `json:"maxDurationMs"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Estimator == nil {
		writeError(w, http.StatusServiceUnavailable, "matching is not enabled")
		return
	}

	var req statsRequest
	if !s.readBody(w, r, "stats", &req) {
		return
	}

	id := mux.Vars(r)["id"]
	snapshot, err := s.deps.Estimator.Estimate(r.Context(), id, stats.Options{
		Populate:    req.Populate,
		MaxDuration: time.Duration(req.MaxDurationMs) * time.Millisecond,
	})
	if err != nil {
		s.candidateError(w, id, "stats", err)
		return
	}

	writeJSON(w, snapshot, http.StatusOK)
}

func (s *Server) candidateError(w http.ResponseWriter, id, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "candidate not found")
	case errors.Is(err, lock.ErrHeld):
		writeError(w, http.StatusConflict, "a run is already active for this candidate")
	case errors.Is(err, dispatch.ErrCandidateDisabled):
		writeError(w, http.StatusUnprocessableEntity, "auto apply is disabled for this candidate")
	case errors.Is(err, dispatch.ErrBudgetTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" failed", zap.String(logger.FieldCandidateID, id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed: "+err.Error())
	}
}

type applicationsResponse struct {
	CandidateID  string                    `json:"candidateId"`
	Total        int                       `json:"total"`
	ByCategory   map[string]int            `json:"byCategory"`
	Applications []model.ApplicationRecord `json:"applications"`
}

func (s *Server) applications(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.deps.Store.GetCandidate(r.Context(), id); err != nil {
		s.candidateError(w, id, "applications", err)
		return
	}

	records, err := s.deps.Store.ListApplications(r.Context(), id)
	if err != nil {
		s.candidateError(w, id, "applications", err)
		return
	}
	if records == nil {
		records = []model.ApplicationRecord{}
	}

	writeJSON(w, applicationsResponse{
		CandidateID:  id,
		Total:        len(records),
		ByCategory:   outreach.CountByCategory(records),
		Applications: records,
	}, http.StatusOK)
}

type jobsResponse struct {
	Category string            `json:"category,omitempty"`
	Fallback bool              `json:"fallback,omitempty"`
	Jobs     []model.PublicJob `json:"jobs"`
	Missing  []string          `json:"missing,omitempty"`
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(limit, maxListLimit), nil
}

// listJobs serves a category page. When the indexed query fails or finds nothing
// the corpus is scanned in key order instead.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := strings.TrimSpace(q.Get("category"))
	if category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	jobs, err := s.deps.Store.JobsByCategory(ctx, category, limit)
	fallback := false
	if err != nil || len(jobs) == 0 {
		if err != nil {
			s.logger.Warn("category query failed, scanning", zap.String("category", category), zap.Error(err))
		}
		fallback = true
		jobs, err = s.scanCategory(ctx, category, limit)
		if err != nil {
			s.logger.Error("category scan failed", zap.String("category", category), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "listing failed")
			return
		}
	}

	writeJSON(w, jobsResponse{Category: category, Fallback: fallback, Jobs: public(jobs)}, http.StatusOK)
}

func (s *Server) scanCategory(ctx context.Context, category string, limit int) ([]model.JobPosting, error) {
	pages := store.NewPaginator(s.deps.Store, "", scanPageSize, s.logger)
	var out []model.JobPosting
	for len(out) < limit {
		page, err := pages.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, job := range page {
			if strings.EqualFold(strings.TrimSpace(job.Category), category) {
				out = append(out, job)
				if len(out) == limit {
					break
				}
			}
		}
	}
	return out, nil
}

type lookupRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) lookupJobs(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !s.readBody(w, r, "lookup", &req) {
		return
	}

	seen := make(map[string]struct{}, len(req.IDs))
	ids := make([]string, 0, len(req.IDs))
	for _, id := range req.IDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		writeJSON(w, jobsResponse{Jobs: []model.PublicJob{}}, http.StatusOK)
		return
	}

	found, err := s.deps.Store.GetJobs(r.Context(), ids)
	if err != nil {
		s.logger.Error("job lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	byID := make(map[string]model.JobPosting, len(found))
	for _, job := range found {
		byID[job.ID] = job
	}
	ordered := make([]model.JobPosting, 0, len(found))
	var missing []string
	for _, id := range ids {
		job, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		ordered = append(ordered, job)
	}

	writeJSON(w, jobsResponse{Jobs: public(ordered), Missing: missing}, http.StatusOK)
}

func public(jobs []model.JobPosting) []model.PublicJob {
	out := make([]model.PublicJob, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobs[i].Public())
	}
	return out
}

type backfillRequest struct {
	StartAfter string `json:"startAfter"`
	All        bool   `json:"all"`
}

func (s *Server) backfill(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backfiller == nil {
		writeError(w, http.StatusServiceUnavailable, "matching is not enabled")
		return
	}

	var req backfillRequest
	if !s.readBody(w, r, "backfill", &req) {
		return
	}

	run := s.deps.Backfiller.Run
	if req.All {
		run = s.deps.Backfiller.RunAll
	}
	res, err := run(r.Context(), req.StartAfter)
	if err != nil {
		s.logger.Error("backfill failed", zap.String("start_after", req.StartAfter), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "backfill failed: "+err.Error())
		return
	}

	writeJSON(w, res, http.StatusOK)
}
