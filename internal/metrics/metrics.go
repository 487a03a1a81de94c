// Package metrics exposes Prometheus instrumentation for the query pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeCached  = "cached"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	QueriesTotal             *prometheus.CounterVec
	QueryDuration            *prometheus.HistogramVec
	CacheRequestsTotal       *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrorsTotal       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on registry. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wpstats_queries_total",
				Help: "Total number of analytics queries handled",
			},
			[]string{"format", "outcome"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wpstats_query_duration_seconds",
				Help:    "Analytics query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"format"},
		),
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wpstats_cache_requests_total",
				Help: "Result cache lookups by result",
			},
			[]string{"result"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wpstats_storage_operation_duration_seconds",
				Help:    "Aggregation query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wpstats_storage_errors_total",
				Help: "Total number of failed aggregation queries",
			},
			[]string{"operation"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.QueriesTotal,
		m.QueryDuration,
		m.CacheRequestsTotal,
		m.StorageOperationDuration,
		m.StorageErrorsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveQuery records one handled query.
func (m *Metrics) ObserveQuery(format, outcome string, elapsed time.Duration) {
	m.QueriesTotal.WithLabelValues(format, outcome).Inc()
	m.QueryDuration.WithLabelValues(format).Observe(elapsed.Seconds())
}

// CacheResult implements cache.Recorder.
func (m *Metrics) CacheResult(result string) {
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveStorage implements storage.Observer.
func (m *Metrics) ObserveStorage(op string, elapsed time.Duration, err error) {
	m.StorageOperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.StorageErrorsTotal.WithLabelValues(op).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
