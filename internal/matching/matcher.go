// Package matching decides whether a job posting matches a candidate profile.
//
// The decision is a fixed cascade. Title heuristics are checked first and can force a match
// on their own. When both embeddings are available the cosine similarity is compared against
// a strict threshold, then against a lower threshold that also requires some keyword overlap.
// A high keyword overlap matches regardless of similarity.
package matching

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spigell/auto-applier/internal/keywords"
	"github.com/spigell/auto-applier/internal/model"
)

const minTitleTokenLength = 4

// Reason names the first rule that produced a match.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonTitleSubstring  Reason = "title_substring"
	ReasonTitleToken      Reason = "title_token"
	ReasonSpecialty       Reason = "specialty"
	ReasonStrict          Reason = "strict"
	ReasonBlended         Reason = "blended"
	ReasonKeywordFallback Reason = "keyword_fallback"
)

type Thresholds struct {
	Strict          float64 `json:"strict"`
	Similarity      float64 `json:"similarity"`
	KeywordMin      float64 `json:"keywordMin"`
	KeywordFallback float64 `json:"keywordFallback"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Strict:          0.72,
		Similarity:      0.58,
		KeywordMin:      0.15,
		KeywordFallback: 0.5,
	}
}

func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"strict": t.Strict, "similarity": t.Similarity} {
		if v < -1 || v > 1 {
			return fmt.Errorf("%s threshold %.2f is outside [-1, 1]", name, v)
		}
	}
	for name, v := range map[string]float64{"keyword-min": t.KeywordMin, "keyword-fallback": t.KeywordFallback} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s threshold %.2f is outside [0, 1]", name, v)
		}
	}
	return nil
}

// Input is everything a single decision needs. Missing embeddings are nil.
type Input struct {
	CandidateTitle     string
	CandidateKeywords  []string
	CandidateEmbedding []float32

	JobTitle     string
	JobText      string
	JobKeywords  []string
	JobEmbedding []float32
}

type Result struct {
	Match           bool     `json:"match"`
	Similarity      float64  `json:"similarity"`
	KeywordScore    float64  `json:"keywordScore"`
	MatchedKeywords []string `json:"matchedKeywords"`
	Reason          Reason   `json:"reason,omitempty"`
}

type Matcher struct {
	thresholds Thresholds
	extractor  *keywords.Extractor
}

func New(thresholds Thresholds, extractor *keywords.Extractor) (*Matcher, error) {
	if extractor == nil {
		return nil, fmt.Errorf("keyword extractor is required")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	return &Matcher{thresholds: thresholds, extractor: extractor}, nil
}

func (m *Matcher) Thresholds() Thresholds { return m.thresholds }

// Evaluate runs the cascade on a single candidate/job pair.
func (m *Matcher) Evaluate(in Input) Result {
	matched := intersect(in.CandidateKeywords, in.JobKeywords)
	res := Result{
		KeywordScore:    keywordScore(len(matched), len(in.CandidateKeywords)),
		MatchedKeywords: matched,
	}

	boost := m.boost(in)
	hasKeywords := len(in.CandidateKeywords) > 0
	fallbackPass := hasKeywords && res.KeywordScore >= m.thresholds.KeywordFallback

	if len(in.CandidateEmbedding) == 0 || len(in.JobEmbedding) == 0 {
		switch {
		case boost != ReasonNone:
			res.Match, res.Reason = true, boost
		case fallbackPass:
			res.Match, res.Reason = true, ReasonKeywordFallback
		}
		return res
	}

	res.Similarity = Cosine(in.CandidateEmbedding, in.JobEmbedding)
	strictPass := res.Similarity >= m.thresholds.Strict
	blendedPass := res.Similarity >= m.thresholds.Similarity &&
		(!hasKeywords || res.KeywordScore >= m.thresholds.KeywordMin)

	switch {
	case boost != ReasonNone:
		res.Match, res.Reason = true, boost
	case strictPass:
		res.Match, res.Reason = true, ReasonStrict
	case blendedPass:
		res.Match, res.Reason = true, ReasonBlended
	case fallbackPass:
		res.Match, res.Reason = true, ReasonKeywordFallback
	}
	return res
}

// boost returns the first title heuristic that forces a match.
func (m *Matcher) boost(in Input) Reason {
	candidateTitle := strings.Join(strings.Fields(strings.ToLower(in.CandidateTitle)), " ")
	if candidateTitle == "" {
		return ReasonNone
	}

	jobTitle := strings.Join(strings.Fields(strings.ToLower(in.JobTitle)), " ")
	if strings.Contains(jobTitle, candidateTitle) {
		return ReasonTitleSubstring
	}

	jobTokens := make(map[string]struct{})
	for _, token := range keywords.Tokens(in.JobText) {
		jobTokens[token] = struct{}{}
	}
	for _, token := range keywords.Tokens(candidateTitle) {
		if utf8.RuneCountInString(token) < minTitleTokenLength {
			continue
		}
		if _, ok := jobTokens[token]; ok {
			return ReasonTitleToken
		}
	}

	if s := m.extractor.Specialty(candidateTitle); s != nil {
		padded := keywords.Pad(in.JobText)
		for _, phrase := range s.Phrases {
			if keywords.ContainsPhrase(padded, phrase) {
				return ReasonSpecialty
			}
		}
	}

	return ReasonNone
}

func keywordScore(matched, candidateKeywords int) float64 {
	if candidateKeywords == 0 {
		return 0
	}
	denominator := candidateKeywords
	if denominator < 3 {
		denominator = 3
	}
	return float64(matched) / float64(denominator)
}

// intersect keeps the order of a.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return []string{}
	}
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := []string{}
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Profile holds what is computed once per candidate and reused for every job of a run.
type Profile struct {
	Title     string
	Keywords  []string
	Embedding []float32
}

func (m *Matcher) Profile(c *model.CandidateProfile, embedding []float32) Profile {
	return Profile{
		Title:     c.Title,
		Keywords:  m.extractor.Extract(c.Title + "\n" + c.Bio),
		Embedding: embedding,
	}
}

// EvaluateJob evaluates a stored posting against a prepared profile.
func (m *Matcher) EvaluateJob(p Profile, job *model.JobPosting, jobEmbedding []float32) Result {
	text := job.Title + "\n" + job.Description
	return m.Evaluate(Input{
		CandidateTitle:     p.Title,
		CandidateKeywords:  p.Keywords,
		CandidateEmbedding: p.Embedding,
		JobTitle:           job.Title,
		JobText:            text,
		JobKeywords:        m.extractor.Extract(text),
		JobEmbedding:       jobEmbedding,
	})
}
