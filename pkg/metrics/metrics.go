// Package metrics defines the Prometheus metric collectors used by the
// storage nodes, the indexer and the searcher, and exposes an HTTP handler
// for scraping.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, which keeps tests and embedded uses free of registries.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	ReplicationEventsTotal    *prometheus.CounterVec
	ReplicationTransfersTotal *prometheus.CounterVec
	ReplicationSyncDuration   *prometheus.HistogramVec
	PeersKnown                prometheus.Gauge

	IngestTotal *prometheus.CounterVec

	IndexUpdatesTotal   *prometheus.CounterVec
	IndexUpdateDuration prometheus.Histogram
	IndexLockWait       prometheus.Histogram
	IndexedDocs         prometheus.Gauge
	IndexedTerms        prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ReplicationEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replication_events_total",
				Help: "Bus messages handled by type and outcome (handled, self, malformed, skipped).",
			},
			[]string{"type", "outcome"},
		),
		ReplicationTransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replication_transfers_total",
				Help: "Document transfers by result (stored, present, failed).",
			},
			[]string{"result"},
		),
		ReplicationSyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replication_sync_duration_seconds",
				Help:    "Manifest sync round duration per peer outcome.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"status"},
		),
		PeersKnown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "replication_peers_known",
				Help: "Number of peers seen through HELLO announcements.",
			},
		),
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_total",
				Help: "Local ingests by entry point (source, upload) and status.",
			},
			[]string{"entry", "status"},
		),
		IndexUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_updates_total",
				Help: "Index update operations by status.",
			},
			[]string{"status"},
		),
		IndexUpdateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_update_duration_seconds",
				Help:    "Time spent inside an index update, lock wait excluded.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		IndexLockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_lock_wait_seconds",
				Help:    "Time spent waiting for the cluster-wide index lock.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
		),
		IndexedDocs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Documents present in the shared index.",
			},
		),
		IndexedTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_terms",
				Help: "Distinct terms present in the shared index.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, miss, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ReplicationEventsTotal,
		m.ReplicationTransfersTotal,
		m.ReplicationSyncDuration,
		m.PeersKnown,
		m.IngestTotal,
		m.IndexUpdatesTotal,
		m.IndexUpdateDuration,
		m.IndexLockWait,
		m.IndexedDocs,
		m.IndexedTerms,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Ingest counts one local ingest attempt.
func (m *Metrics) Ingest(entry, status string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(entry, status).Inc()
}

// ReplicationEvent counts one handled bus message.
func (m *Metrics) ReplicationEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.ReplicationEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// Transfer counts one document transfer attempt.
func (m *Metrics) Transfer(result string) {
	if m == nil {
		return
	}
	m.ReplicationTransfersTotal.WithLabelValues(result).Inc()
}

// SyncFinished records the duration of one manifest sync round.
func (m *Metrics) SyncFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReplicationSyncDuration.WithLabelValues(status).Observe(d.Seconds())
}

// SetPeers updates the known peer gauge.
func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.PeersKnown.Set(float64(n))
}

// IndexUpdate records the outcome of one index mutation.
func (m *Metrics) IndexUpdate(status string, lockWait, held time.Duration) {
	if m == nil {
		return
	}
	m.IndexUpdatesTotal.WithLabelValues(status).Inc()
	m.IndexLockWait.Observe(lockWait.Seconds())
	if held > 0 {
		m.IndexUpdateDuration.Observe(held.Seconds())
	}
}

// IndexSize publishes document and term counts.
func (m *Metrics) IndexSize(docs, terms int) {
	if m == nil {
		return
	}
	m.IndexedDocs.Set(float64(docs))
	m.IndexedTerms.Set(float64(terms))
}

// SearchServed records a finished query.
func (m *Metrics) SearchServed(resultType, cacheStatus string, results int, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(d.Seconds())
	m.SearchResultsCount.Observe(float64(results))
}

// CacheLookup counts a query cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

// BreakerState publishes a circuit breaker state for name.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
