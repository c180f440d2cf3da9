// Package metrics exposes prometheus metrics for dispatch, stats, backfill and the HTTP API.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "auto_applier"

type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	embeddingLookups *prometheus.CounterVec
	dispatchRuns     *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	dispatchJobs     *prometheus.CounterVec
	statsRuns        *prometheus.CounterVec
	matchingJobs     prometheus.Gauge
	backfillJobs     *prometheus.CounterVec
	providerRetries  prometheus.Counter
	sweepCandidates  *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Option configures Metrics.
type Option func(*Metrics)

// WithNamespace overrides the metric namespace.
func WithNamespace(namespace string) Option {
	return func(m *Metrics) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers metrics on the provided registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Metrics) {
		if registry != nil {
			m.registry = registry
		}
	}
}

func New(opts ...Option) *Metrics {
	m := &Metrics{namespace: defaultNamespace}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)

	m.embeddingLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "embedding_lookups_total",
		Help:      "Embedding cache lookups by entity and outcome",
	}, []string{"entity", "outcome"})

	m.dispatchRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "dispatch",
		Name:      "runs_total",
		Help:      "Dispatch runs by outcome",
	}, []string{"outcome"})

	m.dispatchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "dispatch",
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of dispatch runs",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 540},
	})

	m.dispatchJobs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "dispatch",
		Name:      "jobs_total",
		Help:      "Jobs seen by dispatch runs by result",
	}, []string{"result"})

	m.statsRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "stats",
		Name:      "runs_total",
		Help:      "Stats estimations by outcome",
	}, []string{"outcome"})

	m.matchingJobs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "stats",
		Name:      "last_matching_jobs",
		Help:      "Matching jobs reported by the last stats estimation",
	})

	m.backfillJobs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "backfill",
		Name:      "jobs_total",
		Help:      "Jobs handled by backfill by result",
	}, []string{"result"})

	m.providerRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "backfill",
		Name:      "provider_retries_total",
		Help:      "Embedding provider batch retries",
	})

	m.sweepCandidates = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "candidates_total",
		Help:      "Candidates processed by scheduled sweeps by outcome",
	}, []string{"outcome"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EmbeddingLookup(entity, outcome string) {
	if m == nil {
		return
	}
	m.embeddingLookups.WithLabelValues(entity, outcome).Inc()
}

func (m *Metrics) DispatchRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchRuns.WithLabelValues(outcome).Inc()
	m.dispatchDuration.Observe(d.Seconds())
}

// DispatchJobs adds n to the jobs counter for result. Zero values are skipped.
func (m *Metrics) DispatchJobs(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dispatchJobs.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) StatsRun(outcome string, matching int) {
	if m == nil {
		return
	}
	m.statsRuns.WithLabelValues(outcome).Inc()
	if outcome != "error" {
		m.matchingJobs.Set(float64(matching))
	}
}

func (m *Metrics) BackfillJobs(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.backfillJobs.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) ProviderRetry() {
	if m == nil {
		return
	}
	m.providerRetries.Inc()
}

func (m *Metrics) SweepCandidate(outcome string) {
	if m == nil {
		return
	}
	m.sweepCandidates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
