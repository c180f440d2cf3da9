package matching

import (
	"math"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/spigell/auto-applier/internal/keywords"
	"github.com/spigell/auto-applier/internal/model"
)

func newTestMatcher(t *testing.T, thresholds Thresholds) *Matcher {
	t.Helper()
	lex, err := keywords.DefaultLexicon()
	if err != nil {
		t.Fatalf("loading lexicon: %v", err)
	}
	m, err := New(thresholds, keywords.NewExtractor(lex))
	if err != nil {
		t.Fatalf("creating matcher: %v", err)
	}
	return m
}

// unit returns a 2D unit vector whose cosine with (1, 0) is c.
func unit(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func TestCosine(t *testing.T) {
	Convey("Given random non-zero vectors", t, func() {
		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 200; i++ {
			a := make([]float32, 8)
			b := make([]float32, 8)
			for j := range a {
				a[j] = float32(rng.NormFloat64())
				b[j] = float32(rng.NormFloat64())
			}

			sim := Cosine(a, b)
			So(sim, ShouldBeBetweenOrEqual, -1, 1)
			So(Cosine(a, a), ShouldAlmostEqual, 1, 1e-6)
		}
	})

	Convey("Given a zero vector", t, func() {
		Convey("Then the similarity is 0", func() {
			So(Cosine([]float32{0, 0, 0}, []float32{1, 2, 3}), ShouldEqual, 0)
			So(Cosine([]float32{1, 2, 3}, []float32{0, 0, 0}), ShouldEqual, 0)
		})
	})

	Convey("Given vectors of different length or empty vectors", t, func() {
		Convey("Then the similarity is 0", func() {
			So(Cosine([]float32{1, 2}, []float32{1, 2, 3}), ShouldEqual, 0)
			So(Cosine(nil, nil), ShouldEqual, 0)
		})
	})

	Convey("Given opposite vectors", t, func() {
		So(Cosine([]float32{1, 0}, []float32{-1, 0}), ShouldAlmostEqual, -1, 1e-9)
	})
}

func TestHeuristicBoosts(t *testing.T) {
	m := newTestMatcher(t, DefaultThresholds())

	Convey("Given a Planning Engineer candidate and no embeddings yet", t, func() {
		in := Input{
			CandidateTitle:    "Planning Engineer",
			CandidateKeywords: []string{"planning", "primavera"},
			JobTitle:          "Senior Planning Engineer",
			JobText:           "Senior Planning Engineer\nPrimavera P6 for a metro package",
			JobKeywords:       []string{"p6", "planning", "primavera"},
		}

		Convey("When the job title contains the candidate title", func() {
			res := m.Evaluate(in)

			Convey("Then it matches through the title substring heuristic", func() {
				So(res.Match, ShouldBeTrue)
				So(res.Reason, ShouldEqual, ReasonTitleSubstring)
				So(res.Similarity, ShouldEqual, 0)
				So(res.MatchedKeywords, ShouldResemble, []string{"planning", "primavera"})
			})
		})
	})

	Convey("Given a candidate title token that appears in the job text", t, func() {
		res := m.Evaluate(Input{
			CandidateTitle: "Structural Draftsman",
			JobTitle:       "CAD Operator",
			JobText:        "CAD Operator\nPrepare structural shop drawings in Tekla",
		})

		Convey("Then it matches through the title token heuristic", func() {
			So(res.Match, ShouldBeTrue)
			So(res.Reason, ShouldEqual, ReasonTitleToken)
		})
	})

	Convey("Given a seniority word from the candidate title in the job text", t, func() {
		res := m.Evaluate(Input{
			CandidateTitle: "Senior PM",
			JobTitle:       "Office manager",
			JobText:        "Office manager\nSenior role in a busy office",
		})

		Convey("Then it counts like any other title token", func() {
			So(res.Match, ShouldBeTrue)
			So(res.Reason, ShouldEqual, ReasonTitleToken)
		})
	})

	Convey("Given a title token that appears in the job text only in plural form", t, func() {
		res := m.Evaluate(Input{
			CandidateTitle: "Engineer",
			JobTitle:       "Welder",
			JobText:        "Welder\nReports to the engineers on shift",
		})

		Convey("Then tokens are compared whole and nothing fires", func() {
			So(res.Match, ShouldBeFalse)
			So(res.Reason, ShouldEqual, ReasonNone)
		})
	})

	Convey("Given only title tokens shorter than four characters in the job text", t, func() {
		res := m.Evaluate(Input{
			CandidateTitle: "QA HR",
			JobTitle:       "Welder",
			JobText:        "Welder\nQA and HR paperwork for the shutdown crew",
		})

		Convey("Then no heuristic fires", func() {
			So(res.Match, ShouldBeFalse)
			So(res.Reason, ShouldEqual, ReasonNone)
		})
	})

	Convey("Given a narrow specialty candidate", t, func() {
		res := m.Evaluate(Input{
			CandidateTitle: "Planner",
			JobTitle:       "Project Scheduler",
			JobText:        "Project Scheduler\nMaintain the baseline in Primavera P6",
		})

		Convey("Then a role phrase in the job text forces a match", func() {
			So(res.Match, ShouldBeTrue)
			So(res.Reason, ShouldEqual, ReasonSpecialty)
		})
	})

	Convey("Given an empty candidate title", t, func() {
		res := m.Evaluate(Input{JobTitle: "Anything", JobText: "Anything at all"})
		So(res.Match, ShouldBeFalse)
	})
}

func TestKeywordScore(t *testing.T) {
	m := newTestMatcher(t, DefaultThresholds())

	Convey("Given fewer than three candidate keywords", t, func() {
		res := m.Evaluate(Input{
			CandidateTitle:    "Cost Controller",
			CandidateKeywords: []string{"boq", "cost control"},
			JobTitle:          "Budget Analyst",
			JobText:           "Budget Analyst",
			JobKeywords:       []string{"boq"},
		})

		Convey("Then the denominator is three", func() {
			So(res.KeywordScore, ShouldAlmostEqual, 1.0/3.0, 1e-9)
			So(res.MatchedKeywords, ShouldResemble, []string{"boq"})
		})
	})

	Convey("Given a candidate without keywords", t, func() {
		res := m.Evaluate(Input{CandidateTitle: "Cost Controller", JobKeywords: []string{"boq"}})
		So(res.KeywordScore, ShouldEqual, 0)
		So(res.MatchedKeywords, ShouldBeEmpty)
	})
}

func TestEmbeddingCascade(t *testing.T) {
	m := newTestMatcher(t, DefaultThresholds())
	candidate := []float32{1, 0}

	base := func(sim float64, candKW, jobKW []string) Input {
		return Input{
			CandidateTitle:     "Cost Controller",
			CandidateKeywords:  candKW,
			CandidateEmbedding: candidate,
			JobTitle:           "Budget Analyst",
			JobText:            "Budget Analyst\nMonthly reporting",
			JobKeywords:        jobKW,
			JobEmbedding:       unit(sim),
		}
	}

	Convey("Given both embeddings", t, func() {
		Convey("A similarity above the strict threshold matches without keywords", func() {
			res := m.Evaluate(base(0.8, []string{"boq", "tendering", "contracts"}, nil))
			So(res.Match, ShouldBeTrue)
			So(res.Reason, ShouldEqual, ReasonStrict)
			So(res.Similarity, ShouldAlmostEqual, 0.8, 1e-6)
		})

		Convey("A blended similarity needs the minimum keyword overlap", func() {
			without := m.Evaluate(base(0.6, []string{"boq", "tendering", "contracts"}, nil))
			So(without.Match, ShouldBeFalse)

			with := m.Evaluate(base(0.6, []string{"boq", "tendering", "contracts"}, []string{"boq"}))
			So(with.Match, ShouldBeTrue)
			So(with.Reason, ShouldEqual, ReasonBlended)
		})

		Convey("A blended similarity is enough for a candidate without keywords", func() {
			res := m.Evaluate(base(0.6, nil, nil))
			So(res.Match, ShouldBeTrue)
			So(res.Reason, ShouldEqual, ReasonBlended)
		})

		Convey("A high keyword overlap matches regardless of similarity", func() {
			res := m.Evaluate(base(0.1, []string{"boq", "tendering"}, []string{"boq", "tendering"}))
			So(res.Match, ShouldBeTrue)
			So(res.Reason, ShouldEqual, ReasonKeywordFallback)
		})

		Convey("A low similarity with little overlap does not match", func() {
			res := m.Evaluate(base(0.3, []string{"boq", "tendering", "contracts"}, []string{"boq"}))
			So(res.Match, ShouldBeFalse)
		})
	})

	Convey("Given a missing job embedding", t, func() {
		in := base(0.99, []string{"boq", "tendering", "contracts"}, []string{"boq"})
		in.JobEmbedding = nil
		res := m.Evaluate(in)

		Convey("Then similarity is reported as 0 and only fallbacks apply", func() {
			So(res.Similarity, ShouldEqual, 0)
			So(res.Match, ShouldBeFalse)
		})
	})
}

func TestThresholdMonotonicity(t *testing.T) {
	Convey("Given a fixed set of candidate/job pairs", t, func() {
		rng := rand.New(rand.NewSource(7))
		pool := []string{"boq", "tendering", "contracts", "cost control", "p6", "hse"}
		inputs := make([]Input, 0, 60)
		for i := 0; i < 60; i++ {
			var jobKW []string
			for _, kw := range pool {
				if rng.Intn(3) == 0 {
					jobKW = append(jobKW, kw)
				}
			}
			inputs = append(inputs, Input{
				CandidateTitle:     "Cost Controller",
				CandidateKeywords:  pool[:3],
				CandidateEmbedding: []float32{1, 0},
				JobTitle:           "Budget Analyst",
				JobText:            "Budget Analyst",
				JobKeywords:        jobKW,
				JobEmbedding:       unit(rng.Float64()),
			})
		}

		Convey("Raising the similarity threshold never grows the match set", func() {
			previous := len(inputs) + 1
			for threshold := 0.0; threshold <= 1.0; threshold += 0.05 {
				thresholds := DefaultThresholds()
				thresholds.Similarity = threshold
				m := newTestMatcher(t, thresholds)

				count := 0
				for _, in := range inputs {
					if m.Evaluate(in).Match {
						count++
					}
				}
				So(count, ShouldBeLessThanOrEqualTo, previous)
				previous = count
			}
		})
	})
}

func TestEvaluateJob(t *testing.T) {
	m := newTestMatcher(t, DefaultThresholds())

	Convey("Given a stored candidate and posting", t, func() {
		candidate := &model.CandidateProfile{Title: "HSE Officer", Bio: "NEBOSH, OSHA, site safety"}
		job := &model.JobPosting{Title: "Safety Supervisor", Description: "Supervise safety on a construction site"}

		profile := m.Profile(candidate, nil)
		res := m.EvaluateJob(profile, job, nil)

		Convey("Then keywords come from the lexicon", func() {
			So(profile.Keywords, ShouldResemble, []string{"hse", "nebosh", "osha", "safety", "site"})
			So(res.MatchedKeywords, ShouldResemble, []string{"safety", "site"})
		})

		Convey("And the specialty heuristic matches", func() {
			So(res.Match, ShouldBeTrue)
			So(res.Reason, ShouldEqual, ReasonSpecialty)
		})
	})
}

func TestNewValidation(t *testing.T) {
	lex, _ := keywords.DefaultLexicon()

	if _, err := New(DefaultThresholds(), nil); err == nil {
		t.Fatalf("expected error without extractor")
	}

	bad := DefaultThresholds()
	bad.KeywordFallback = 1.5
	if _, err := New(bad, keywords.NewExtractor(lex)); err == nil {
		t.Fatalf("expected error for out of range threshold")
	}
}
