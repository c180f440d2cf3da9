// Package ingest loads job postings and candidate profiles exported by the scraping
// and account pipelines. Every record is checked against a JSON schema before it is decoded.
package ingest

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/qri-io/jsonschema"
	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/model"
)

//go:embed schemas/*.json
var schemas embed.FS

type Sink interface {
	UpsertJob(ctx context.Context, job model.JobPosting) error
	UpsertCandidate(ctx context.Context, c model.CandidateProfile) error
}

// Rejection explains why a record was not imported.
type Rejection struct {
	Key      string   `json:"key"`
	Problems []string `json:"problems"`
}

type Summary struct {
	Imported int         `json:"imported"`
	Rejected []Rejection `json:"rejected"`
}

type jobRecord struct {
	ID           string    `mapstructure:"id"`
	Title        string    `mapstructure:"title"`
	Description  string    `mapstructure:"description"`
	Category     string    `mapstructure:"category"`
	Location     string    `mapstructure:"location"`
	Email        string    `mapstructure:"email"`
	ContactEmail string    `mapstructure:"contactEmail"`
	URL          string    `mapstructure:"url"`
	SourceURL    string    `mapstructure:"sourceUrl"`
	CreatedAt    time.Time `mapstructure:"createdAt"`
}

type candidateRecord struct {
	ID               string `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	Title            string `mapstructure:"title"`
	Bio              string `mapstructure:"bio"`
	Email            string `mapstructure:"email"`
	CVPath           string `mapstructure:"cvPath"`
	CVURL            string `mapstructure:"cvUrl"`
	PhotoPath        string `mapstructure:"photoPath"`
	AutoApplyEnabled bool   `mapstructure:"autoApplyEnabled"`
	LastAutoApply    int64  `mapstructure:"lastAutoApply"`
}

type Importer struct {
	sink      Sink
	job       *jsonschema.Schema
	candidate *jsonschema.Schema
	logger    *zap.Logger
	now       func() time.Time
}

func New(sink Sink, logger *zap.Logger) (*Importer, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	job, err := loadSchema("schemas/job.json")
	if err != nil {
		return nil, err
	}
	candidate, err := loadSchema("schemas/candidate.json")
	if err != nil {
		return nil, err
	}
	return &Importer{sink: sink, job: job, candidate: candidate, logger: logger, now: time.Now}, nil
}

func loadSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemas.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", name, err)
	}
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	return rs, nil
}

// ImportJobs reads an array of postings or an object keyed by posting id.
func (i *Importer) ImportJobs(ctx context.Context, r io.Reader) (Summary, error) {
	return i.importAll(ctx, r, i.job, func(key string, raw map[string]any) error {
		job, err := decodeJob(key, raw, i.now)
		if err != nil {
			return err
		}
		return i.sink.UpsertJob(ctx, job)
	})
}

// ImportCandidates reads an array of profiles or an object keyed by candidate id.
func (i *Importer) ImportCandidates(ctx context.Context, r io.Reader) (Summary, error) {
	return i.importAll(ctx, r, i.candidate, func(key string, raw map[string]any) error {
		c, err := decodeCandidate(key, raw)
		if err != nil {
			return err
		}
		return i.sink.UpsertCandidate(ctx, c)
	})
}

type entry struct {
	key string
	raw json.RawMessage
}

func (i *Importer) importAll(ctx context.Context, r io.Reader, schema *jsonschema.Schema, store func(key string, raw map[string]any) error) (Summary, error) {
	entries, err := readEntries(r)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Rejected: []Rejection{}}
	for _, e := range entries {
		problems, err := validate(ctx, schema, e.raw)
		if err != nil {
			return summary, fmt.Errorf("validating %s: %w", e.key, err)
		}
		if len(problems) > 0 {
			summary.Rejected = append(summary.Rejected, Rejection{Key: e.key, Problems: problems})
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(e.raw, &raw); err != nil {
			summary.Rejected = append(summary.Rejected, Rejection{Key: e.key, Problems: []string{err.Error()}})
			continue
		}

		if err := store(e.key, raw); err != nil {
			var invalid *invalidRecordError
			if errors.As(err, &invalid) {
				summary.Rejected = append(summary.Rejected, Rejection{Key: e.key, Problems: []string{invalid.msg}})
				continue
			}
			return summary, fmt.Errorf("storing %s: %w", e.key, err)
		}
		summary.Imported++
	}

	i.logger.Info("import finished", zap.Int("imported", summary.Imported), zap.Int("rejected", len(summary.Rejected)))
	return summary, nil
}

// readEntries accepts either a JSON array or an object keyed by id. Keyed entries are
// returned in key order. Array entries are keyed by their position until decoded.
func readEntries(r io.Reader) ([]entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decoding array: %w", err)
		}
		entries := make([]entry, 0, len(list))
		for idx, raw := range list {
			entries = append(entries, entry{key: "#" + strconv.Itoa(idx), raw: raw})
		}
		return entries, nil
	case strings.HasPrefix(trimmed, "{"):
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(data, &keyed); err != nil {
			return nil, fmt.Errorf("decoding object: %w", err)
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]entry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, entry{key: k, raw: keyed[k]})
		}
		return entries, nil
	default:
		return nil, errors.New("input must be a JSON array or object")
	}
}

func validate(ctx context.Context, schema *jsonschema.Schema, raw []byte) ([]string, error) {
	keyErrs, err := schema.ValidateBytes(ctx, raw)
	if err != nil {
		return nil, err
	}
	problems := make([]string, 0, len(keyErrs))
	for _, ke := range keyErrs {
		problems = append(problems, ke.Error())
	}
	return problems, nil
}

type invalidRecordError struct {
	msg string
}

func (e *invalidRecordError) Error() string { return e.msg }

func decode(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:     out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return &invalidRecordError{msg: err.Error()}
	}
	return nil
}

// recordID prefers the id field and falls back to the object key. Positional keys never become ids.
func recordID(key, id string) (string, error) {
	if id = strings.TrimSpace(id); id != "" {
		return id, nil
	}
	if key != "" && !strings.HasPrefix(key, "#") {
		return key, nil
	}
	return "", &invalidRecordError{msg: "id is required"}
}

func decodeJob(key string, raw map[string]any, now func() time.Time) (model.JobPosting, error) {
	var rec jobRecord
	if err := decode(raw, &rec); err != nil {
		return model.JobPosting{}, err
	}
	id, err := recordID(key, rec.ID)
	if err != nil {
		return model.JobPosting{}, err
	}

	contact := rec.ContactEmail
	if contact == "" {
		contact = rec.Email
	}
	source := rec.SourceURL
	if source == "" {
		source = rec.URL
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = now()
	}

	return model.JobPosting{
		ID:           id,
		Title:        strings.TrimSpace(rec.Title),
		Description:  rec.Description,
		Category:     strings.TrimSpace(rec.Category),
		Location:     strings.TrimSpace(rec.Location),
		ContactEmail: strings.TrimSpace(contact),
		SourceURL:    strings.TrimSpace(source),
		CreatedAt:    created.UTC(),
	}, nil
}

func decodeCandidate(key string, raw map[string]any) (model.CandidateProfile, error) {
	var rec candidateRecord
	if err := decode(raw, &rec); err != nil {
		return model.CandidateProfile{}, err
	}
	id, err := recordID(key, rec.ID)
	if err != nil {
		return model.CandidateProfile{}, err
	}

	return model.CandidateProfile{
		ID:               id,
		Name:             strings.TrimSpace(rec.Name),
		Title:            strings.TrimSpace(rec.Title),
		Bio:              rec.Bio,
		Email:            strings.TrimSpace(rec.Email),
		CVPath:           rec.CVPath,
		CVURL:            rec.CVURL,
		PhotoPath:        rec.PhotoPath,
		AutoApplyEnabled: rec.AutoApplyEnabled,
		LastAutoApply:    model.CursorFromMillis(rec.LastAutoApply),
	}, nil
}
