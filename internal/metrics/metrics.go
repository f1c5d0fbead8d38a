// Package metrics exposes Prometheus collectors for cache efficiency and
// embedding backend usage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tunematch"

// Cache lookup outcomes.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultStale    = "stale"
	ResultFastPath = "fast_path"
)

// Recorder owns a registry and the collectors registered on it.
// All methods are safe on a nil Recorder, which records nothing.
type Recorder struct {
	registry *prometheus.Registry

	embeddingLookups *prometheus.CounterVec
	backendCalls     *prometheus.CounterVec
	backendLatency   *prometheus.HistogramVec
	profileBuilds    *prometheus.CounterVec
	semanticLookups  *prometheus.CounterVec
	scorerRuns       *prometheus.CounterVec
	matchLookups     *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.embeddingLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "cache_lookups_total",
		Help:      "Track embedding cache lookups by layer and result",
	}, []string{"layer", "result"})

	r.backendCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "backend_calls_total",
		Help:      "Remote embedding calls by provider and outcome",
	}, []string{"provider", "outcome"})

	r.backendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "backend_latency_seconds",
		Help:      "Remote embedding call latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	r.profileBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "profile",
		Name:      "requests_total",
		Help:      "Playlist profile requests by method and result",
	}, []string{"method", "result"})

	r.semanticLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "semantic",
		Name:      "lookups_total",
		Help:      "Semantic matcher string lookups by result",
	}, []string{"result"})

	r.scorerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scorer",
		Name:      "runs_total",
		Help:      "Hybrid scorer runs by weight profile and whether deep tiers ran",
	}, []string{"profile", "deep"})

	r.matchLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "match",
		Name:      "cache_lookups_total",
		Help:      "Per-candidate match result cache lookups by result",
	}, []string{"result"})

	r.registry.MustRegister(
		r.embeddingLookups,
		r.backendCalls,
		r.backendLatency,
		r.profileBuilds,
		r.semanticLookups,
		r.scorerRuns,
		r.matchLookups,
	)
	return r
}

// Registry returns the registry for exposition.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteTextfile dumps all metrics in text format, for node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

func (r *Recorder) EmbeddingLookup(layer, result string) {
	if r == nil {
		return
	}
	r.embeddingLookups.WithLabelValues(layer, result).Inc()
}

// BackendCall records one remote attempt.
func (r *Recorder) BackendCall(provider, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.backendCalls.WithLabelValues(provider, outcome).Inc()
	r.backendLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (r *Recorder) ProfileRequest(method, result string) {
	if r == nil {
		return
	}
	r.profileBuilds.WithLabelValues(method, result).Inc()
}

func (r *Recorder) SemanticLookup(result string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.semanticLookups.WithLabelValues(result).Add(float64(n))
}

func (r *Recorder) ScorerRun(profile string, deep bool) {
	if r == nil {
		return
	}
	label := "false"
	if deep {
		label = "true"
	}
	r.scorerRuns.WithLabelValues(profile, label).Inc()
}

func (r *Recorder) MatchLookup(result string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.matchLookups.WithLabelValues(result).Add(float64(n))
}
