package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	m.EmbeddingLookup("job", "hit")
	m.DispatchRun("ok", time.Second)
	m.DispatchJobs("sent", 2)
	m.StatsRun("complete", 10)
	m.BackfillJobs("updated", 5)
	m.ProviderRetry()
	m.SweepCandidate("ok")
	m.HTTPRequest("/health", "GET", 200, time.Millisecond)

	if m.Registry() != nil {
		t.Fatalf("expected nil registry for nil metrics")
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.EmbeddingLookup("job", "hit")
	m.EmbeddingLookup("job", "hit")
	m.DispatchJobs("sent", 3)
	m.DispatchJobs("sent", 0)
	m.BackfillJobs("skipped", 4)

	if got := testutil.ToFloat64(m.embeddingLookups.WithLabelValues("job", "hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchJobs.WithLabelValues("sent")); got != 3 {
		t.Fatalf("expected 3 sent, got %v", got)
	}
	if got := testutil.ToFloat64(m.backfillJobs.WithLabelValues("skipped")); got != 4 {
		t.Fatalf("expected 4 skipped, got %v", got)
	}

	m.StatsRun("partial", 12)
	m.StatsRun("error", 0)
	if got := testutil.ToFloat64(m.matchingJobs); got != 12 {
		t.Fatalf("expected gauge to keep last successful value, got %v", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New(WithNamespace("test_ns"))
	m.SweepCandidate("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "test_ns_sweep_candidates_total") {
		t.Fatalf("expected namespaced metric in output, got:\n%s", rec.Body.String())
	}
}
