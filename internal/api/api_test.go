package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/api"
	"github.com/spigell/auto-applier/internal/backfill"
	"github.com/spigell/auto-applier/internal/dispatch"
	"github.com/spigell/auto-applier/internal/lock"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/stats"
	"github.com/spigell/auto-applier/internal/store"
	"github.com/spigell/auto-applier/internal/store/memstore"
)

const (
	allowedOrigin = "https://dashboard.example.com"
	adminToken    = "s3cret"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	err   error
	calls []dispatch.Options
}

func (f *fakeDispatcher) Dispatch(_ context.Context, candidateID string, opts dispatch.Options) (*dispatch.Report, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &dispatch.Report{RunID: "run-1", CandidateID: candidateID, DryRun: opts.DryRun, Sent: 2}, nil
}

type fakeEstimator struct {
	opts stats.Options
}

func (f *fakeEstimator) Estimate(_ context.Context, candidateID string, opts stats.Options) (*model.MatchStats, error) {
	if candidateID == "missing" {
		return nil, fmt.Errorf("loading candidate: %w", store.ErrNotFound)
	}
	f.opts = opts
	return &model.MatchStats{TotalJobs: 4, TotalWithContact: 3, MatchingJobs: 2, Complete: true}, nil
}

type fakeBackfiller struct {
	runs, runAlls []string
}

func (f *fakeBackfiller) Run(_ context.Context, startAfter string) (backfill.Result, error) {
	f.runs = append(f.runs, startAfter)
	return backfill.Result{Processed: 3, Updated: 1, Skipped: 2, NextCursor: "job-3"}, nil
}

func (f *fakeBackfiller) RunAll(_ context.Context, startAfter string) (backfill.Result, error) {
	f.runAlls = append(f.runAlls, startAfter)
	return backfill.Result{Processed: 4, Updated: 4}, nil
}

// brokenIndex fails the indexed category query so the broad scan is used.
type brokenIndex struct {
	*memstore.Store
}

func (brokenIndex) JobsByCategory(context.Context, string, int) ([]model.JobPosting, error) {
	return nil, errors.New("index missing")
}

type harness struct {
	server     *httptest.Server
	store      *memstore.Store
	dispatcher *fakeDispatcher
	estimator  *fakeEstimator
	backfiller *fakeBackfiller
	metrics    *metrics.Metrics
}

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	jobs := []model.JobPosting{
		{ID: "job-1", Title: "Planning Engineer", Category: "Planning", ContactEmail: "a@example.com", CreatedAt: t0},
		{ID: "job-2", Title: "Scheduler", Category: "planning ", CreatedAt: t0.Add(time.Hour)},
		{ID: "job-3", Title: "Accountant", Category: "Finance", ContactEmail: "c@example.com", CreatedAt: t0.Add(2 * time.Hour)},
	}
	for _, job := range jobs {
		if err := s.UpsertJob(ctx, job); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}
	if err := s.UpsertCandidate(ctx, model.CandidateProfile{ID: "cand-1", Title: "Planning Engineer"}); err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
	if _, err := s.RecordApplication(ctx, model.ApplicationRecord{CandidateID: "cand-1", JobID: "job-1", Category: "Planning", AppliedAt: t0}); err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return s
}

func newHarness(t *testing.T, cfg api.Config, wrap func(*memstore.Store) api.Store) *harness {
	t.Helper()
	h := &harness{
		store:      seed(t),
		dispatcher: &fakeDispatcher{},
		estimator:  &fakeEstimator{},
		backfiller: &fakeBackfiller{},
		metrics:    metrics.New(),
	}

	var st api.Store = h.store
	if wrap != nil {
		st = wrap(h.store)
	}

	srv, err := api.New(cfg, api.Deps{
		Store:      st,
		Dispatcher: h.dispatcher,
		Estimator:  h.estimator,
		Backfiller: h.backfiller,
		Metrics:    h.metrics,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	h.server = httptest.NewServer(srv.Handler())
	t.Cleanup(h.server.Close)
	return h
}

func defaultConfig() api.Config {
	return api.Config{AllowedOrigins: []string{allowedOrigin}, AdminToken: adminToken}
}

func (h *harness) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		t.Fatalf("decode %q: %v", string(data), err)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)
	res, body := h.do(t, http.MethodGet, "/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestCORSAllowList(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	res, _ := h.do(t, http.MethodGet, "/health", "", map[string]string{"Origin": allowedOrigin})
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != allowedOrigin {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	res, _ = h.do(t, http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example.com"})
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for a foreign origin, got %q", got)
	}

	res, _ = h.do(t, http.MethodOptions, "/v1/jobs/lookup", "", map[string]string{
		"Origin":                        allowedOrigin,
		"Access-Control-Request-Method": http.MethodPost,
	})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.StatusCode)
	}
	if got := res.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, api.AdminTokenHeader) {
		t.Fatalf("expected admin header to be allowed, got %q", got)
	}
}

func TestAdminBackfillGate(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		wantStatus int
		wantError  string
	}{
		{name: "no secret provisioned", configured: "", sent: "anything", wantStatus: http.StatusInternalServerError, wantError: "misconfigured"},
		{name: "missing header", configured: adminToken, sent: "", wantStatus: http.StatusForbidden, wantError: "forbidden"},
		{name: "wrong token", configured: adminToken, sent: "s3cret2", wantStatus: http.StatusForbidden, wantError: "forbidden"},
		{name: "prefix is not enough", configured: adminToken, sent: "s3cre", wantStatus: http.StatusForbidden, wantError: "forbidden"},
		{name: "exact match", configured: adminToken, sent: adminToken, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.AdminToken = tt.configured
			h := newHarness(t, cfg, nil)

			headers := map[string]string{}
			if tt.sent != "" {
				headers[api.AdminTokenHeader] = tt.sent
			}
			res, body := h.do(t, http.MethodPost, "/v1/admin/backfill", `{"startAfter":"job-1"}`, headers)
			if res.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.wantStatus, res.StatusCode, body)
			}
			if tt.wantError != "" {
				var e struct{ Error string }
				decode(t, body, &e)
				if e.Error != tt.wantError {
					t.Fatalf("expected %q, got %q", tt.wantError, e.Error)
				}
				if len(h.backfiller.runs) != 0 {
					t.Fatal("backfill must not run when the gate rejects")
				}
				return
			}

			var res2 backfill.Result
			decode(t, body, &res2)
			if res2.NextCursor != "job-3" || res2.Updated != 1 {
				t.Fatalf("unexpected result %+v", res2)
			}
			if len(h.backfiller.runs) != 1 || h.backfiller.runs[0] != "job-1" {
				t.Fatalf("expected one page after job-1, got %v", h.backfiller.runs)
			}
		})
	}
}

func TestAdminBackfillAll(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)
	res, _ := h.do(t, http.MethodPost, "/v1/admin/backfill", `{"all":true}`, map[string]string{api.AdminTokenHeader: adminToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if len(h.backfiller.runAlls) != 1 || len(h.backfiller.runs) != 0 {
		t.Fatalf("expected RunAll only, got runs=%v runAlls=%v", h.backfiller.runs, h.backfiller.runAlls)
	}
}

func TestDispatch(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	res, body := h.do(t, http.MethodPost, "/v1/candidates/cand-1/dispatch", `{"dryRun":true,"maxItems":5,"maxDurationMs":60000}`, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.StatusCode, body)
	}
	var report dispatch.Report
	decode(t, body, &report)
	if report.CandidateID != "cand-1" || !report.DryRun {
		t.Fatalf("unexpected report %+v", report)
	}

	got := h.dispatcher.calls[0]
	if got.MaxItems != 5 || got.MaxDuration != time.Minute || !got.DryRun || got.IgnoreCursor {
		t.Fatalf("unexpected options %+v", got)
	}

	// an empty body means defaults
	res, _ = h.do(t, http.MethodPost, "/v1/candidates/cand-1/dispatch", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for an empty body, got %d", res.StatusCode)
	}
	if got := h.dispatcher.calls[1]; got != (dispatch.Options{}) {
		t.Fatalf("expected zero options, got %+v", got)
	}
}

func TestDispatchValidation(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	for _, body := range []string{
		`{"maxItems":0}`,
		`{"maxDurationMs":10000}`,
		`{"dryRun":"yes"}`,
		`{"unknown":true}`,
		`{not json`,
	} {
		res, data := h.do(t, http.MethodPost, "/v1/candidates/cand-1/dispatch", body, nil)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d (%s)", body, res.StatusCode, data)
		}
	}
	if len(h.dispatcher.calls) != 0 {
		t.Fatalf("dispatcher must not run for invalid bodies, got %d calls", len(h.dispatcher.calls))
	}
}

func TestDispatchErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("cand-1: %w", lock.ErrHeld), want: http.StatusConflict},
		{err: fmt.Errorf("loading candidate: %w", store.ErrNotFound), want: http.StatusNotFound},
		{err: dispatch.ErrCandidateDisabled, want: http.StatusUnprocessableEntity},
		{err: fmt.Errorf("%w: max duration 25s, safety margin 40s", dispatch.ErrBudgetTooShort), want: http.StatusBadRequest},
		{err: errors.New("provider down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newHarness(t, defaultConfig(), nil)
			h.dispatcher.err = tt.err

			res, body := h.do(t, http.MethodPost, "/v1/candidates/cand-1/dispatch", "{}", nil)
			if res.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, res.StatusCode, body)
			}
		})
	}
}

func TestMatchingRoutesWithoutEngine(t *testing.T) {
	srv, err := api.New(defaultConfig(), api.Deps{Store: seed(t)})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/candidates/cand-1/dispatch", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.StatusCode)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	res, body := h.do(t, http.MethodPost, "/v1/candidates/cand-1/stats", `{"populate":true}`, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.StatusCode, body)
	}
	var snapshot model.MatchStats
	decode(t, body, &snapshot)
	if snapshot.MatchingJobs != 2 || !h.estimator.opts.Populate {
		t.Fatalf("unexpected snapshot %+v or options %+v", snapshot, h.estimator.opts)
	}

	res, _ = h.do(t, http.MethodPost, "/v1/candidates/missing/stats", "", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestApplications(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	res, body := h.do(t, http.MethodGet, "/v1/candidates/cand-1/applications", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var out struct {
		Total        int                       `json:"total"`
		ByCategory   map[string]int            `json:"byCategory"`
		Applications []model.ApplicationRecord `json:"applications"`
	}
	decode(t, body, &out)
	if out.Total != 1 || out.ByCategory["Planning"] != 1 || out.Applications[0].JobID != "job-1" {
		t.Fatalf("unexpected listing %+v", out)
	}

	res, _ = h.do(t, http.MethodGet, "/v1/candidates/nobody/applications", "", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

type jobsBody struct {
	Category string            `json:"category"`
	Fallback bool              `json:"fallback"`
	Jobs     []model.PublicJob `json:"jobs"`
	Missing  []string          `json:"missing"`
}

func TestListJobs(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	res, body := h.do(t, http.MethodGet, "/v1/jobs?category=planning", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.StatusCode, body)
	}
	if strings.Contains(string(body), "a@example.com") || strings.Contains(string(body), "contactEmail") {
		t.Fatalf("listing leaked contact details: %s", body)
	}

	var out jobsBody
	decode(t, body, &out)
	if out.Fallback {
		t.Fatal("expected the indexed path to serve the listing")
	}
	if len(out.Jobs) != 1 || out.Jobs[0].ID != "job-1" || !out.Jobs[0].HasContact {
		t.Fatalf("unexpected jobs %+v", out.Jobs)
	}
}

func TestListJobsFallsBackToScan(t *testing.T) {
	h := newHarness(t, defaultConfig(), func(s *memstore.Store) api.Store { return brokenIndex{s} })

	res, body := h.do(t, http.MethodGet, "/v1/jobs?category=Planning&limit=10", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.StatusCode, body)
	}
	var out jobsBody
	decode(t, body, &out)
	if !out.Fallback {
		t.Fatal("expected the broad scan to serve the listing")
	}
	// the scan trims categories, so "planning " matches too
	if len(out.Jobs) != 2 || out.Jobs[0].ID != "job-1" || out.Jobs[1].ID != "job-2" {
		t.Fatalf("unexpected jobs %+v", out.Jobs)
	}

	res, body = h.do(t, http.MethodGet, "/v1/jobs?category=Planning&limit=1", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	decode(t, body, &out)
	if len(out.Jobs) != 1 {
		t.Fatalf("expected the limit to bound the scan, got %d jobs", len(out.Jobs))
	}
}

func TestListJobsValidation(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	for _, path := range []string{"/v1/jobs", "/v1/jobs?category=Planning&limit=abc", "/v1/jobs?category=Planning&limit=0"} {
		res, _ := h.do(t, http.MethodGet, path, "", nil)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, res.StatusCode)
		}
	}

	res, _ := h.do(t, http.MethodGet, "/v1/jobs?category=Planning&limit=100000", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected an oversized limit to be clamped, got %d", res.StatusCode)
	}
}

func TestLookupJobs(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	res, body := h.do(t, http.MethodPost, "/v1/jobs/lookup", `{"ids":["job-3"," job-1","job-3","nope",""]}`, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", res.StatusCode, body)
	}
	var out jobsBody
	decode(t, body, &out)
	if len(out.Jobs) != 2 || out.Jobs[0].ID != "job-3" || out.Jobs[1].ID != "job-1" {
		t.Fatalf("expected request order without duplicates, got %+v", out.Jobs)
	}
	if len(out.Missing) != 1 || out.Missing[0] != "nope" {
		t.Fatalf("unexpected missing %v", out.Missing)
	}

	ids := make([]string, 51)
	for i := range ids {
		ids[i] = fmt.Sprintf("job-%d", i)
	}
	payload, _ := json.Marshal(map[string]any{"ids": ids})
	res, _ = h.do(t, http.MethodPost, "/v1/jobs/lookup", string(payload), nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for more than 50 ids, got %d", res.StatusCode)
	}
}

func TestMetricsRecordRoutes(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)
	h.do(t, http.MethodGet, "/health", "", nil)

	res, body := h.do(t, http.MethodGet, "/metrics", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if !strings.Contains(string(body), `auto_applier_http_requests_total{method="GET",route="/health",status_code="200"} 1`) {
		t.Fatalf("expected the health request to be counted:\n%s", body)
	}
}
