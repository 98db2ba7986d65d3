// Package metrics exposes Prometheus collectors for ingest, search and
// embedding activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeUnchanged = "unchanged"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	ingestTotal     *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	skippedVectors  prometheus.Counter
	searchTotal     *prometheus.CounterVec
	searchDuration  prometheus.Histogram
	embeddingTokens prometheus.Counter
}

// New registers the tebiki collectors plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tebiki_ingest_total",
			Help: "Ingest calls by outcome.",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tebiki_ingest_duration_seconds",
			Help:    "Wall-clock duration of ingest calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		skippedVectors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tebiki_skipped_vectors_total",
			Help: "Chunk embeddings dropped for having the wrong dimension.",
		}),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tebiki_search_total",
			Help: "Similarity searches by outcome.",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tebiki_search_duration_seconds",
			Help:    "Wall-clock duration of similarity searches.",
			Buckets: prometheus.DefBuckets,
		}),
		embeddingTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tebiki_embedding_tokens_total",
			Help: "Tokens consumed by ingest embeddings.",
		}),
	}
	reg.MustRegister(
		m.ingestTotal, m.ingestDuration, m.skippedVectors,
		m.searchTotal, m.searchDuration, m.embeddingTokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveIngest records one ingest call.
func (m *Metrics) ObserveIngest(outcome string, d time.Duration, tokens, skipped int) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(d.Seconds())
	if tokens > 0 {
		m.embeddingTokens.Add(float64(tokens))
	}
	if skipped > 0 {
		m.skippedVectors.Add(float64(skipped))
	}
}

// ObserveSearch records one similarity search.
func (m *Metrics) ObserveSearch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.searchTotal.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
