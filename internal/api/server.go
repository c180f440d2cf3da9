// Package api exposes the on-demand triggers and the dashboard read endpoints over HTTP.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/qri-io/jsonschema"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/backfill"
	"github.com/spigell/auto-applier/internal/dispatch"
	"github.com/spigell/auto-applier/internal/metrics"
	"github.com/spigell/auto-applier/internal/model"
	"github.com/spigell/auto-applier/internal/stats"
	"github.com/spigell/auto-applier/internal/store"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const AdminTokenHeader = "X-Admin-Token"

type Dispatcher interface {
	Dispatch(ctx context.Context, candidateID string, opts dispatch.Options) (*dispatch.Report, error)
}

type Estimator interface {
	Estimate(ctx context.Context, candidateID string, opts stats.Options) (*model.MatchStats, error)
}

type Backfiller interface {
	Run(ctx context.Context, startAfter string) (backfill.Result, error)
	RunAll(ctx context.Context, startAfter string) (backfill.Result, error)
}

// Store is the read side the dashboard endpoints need.
type Store interface {
	store.JobReader
	GetJobs(ctx context.Context, ids []string) ([]model.JobPosting, error)
	JobsByCategory(ctx context.Context, category string, limit int) ([]model.JobPosting, error)
	GetCandidate(ctx context.Context, id string) (*model.CandidateProfile, error)
	ListApplications(ctx context.Context, candidateID string) ([]model.ApplicationRecord, error)
}

type Config struct {
	AllowedOrigins []string
	// AdminToken gates the administrative endpoints. Empty means they answer "misconfigured".
	AdminToken string
}

// Deps are the collaborators behind the routes. Dispatcher, Estimator and
// Backfiller may be nil, in which case their routes answer 503.
type Deps struct {
	Store      Store
	Dispatcher Dispatcher
	Estimator  Estimator
	Backfiller Backfiller
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Server struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	origins map[string]struct{}
	schemas map[string]*jsonschema.Schema
	router  *mux.Router
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger,
		origins: make(map[string]struct{}, len(cfg.AllowedOrigins)),
		schemas: map[string]*jsonschema.Schema{},
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin != "" {
			s.origins[origin] = struct{}{}
		}
	}

	for _, name := range []string{"dispatch", "stats", "lookup", "backfill"} {
		data, err := schemaFiles.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", name, err)
		}
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal(data, rs); err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		s.schemas[name] = rs
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.recovery)
	r.Use(s.logging)
	r.Use(s.instrument)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/candidates/{id}/dispatch", s.dispatch).Methods(http.MethodPost)
	v1.HandleFunc("/candidates/{id}/stats", s.stats).Methods(http.MethodPost)
	v1.HandleFunc("/candidates/{id}/applications", s.applications).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/lookup", s.lookupJobs).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/backfill", s.backfill).Methods(http.MethodPost)

	return r
}

// Handler returns the router wrapped in the CORS layer, which has to see
// preflight requests before route method matching rejects them.
func (s *Server) Handler() http.Handler {
	return s.cors(s.router)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "service": "auto-applier"}, http.StatusOK)
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, errorResponse{Error: msg}, status)
}
