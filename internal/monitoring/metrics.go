// internal/monitoring/metrics.go

// Package monitoring exposes Prometheus metrics for the migration pipeline.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the migration pipeline. Each Metrics
// carries its own registry so multiple instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Batch engine
	BatchesCreated prometheus.Counter
	CyclesTotal    prometheus.Counter
	ItemsRetried   prometheus.Counter

	// Row processing
	RowsProcessed *prometheus.CounterVec // label: status (success|skipped|failed)
	RowDuration   prometheus.Histogram

	// Fetching
	FetchesTotal  *prometheus.CounterVec // label: status_code
	FetchDuration prometheus.Histogram

	// HTTP API
	RequestsTotal   *prometheus.CounterVec // labels: method, path, status_code
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the pipeline collectors under the
// sitemigrator namespace.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	const namespace = "sitemigrator"

	return &Metrics{
		registry: registry,

		BatchesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_created_total",
			Help:      "Total number of batches created",
		}),
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_cycles_total",
			Help:      "Total number of batch processing cycles run",
		}),
		ItemsRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_retried_total",
			Help:      "Total number of batch items reset for retry",
		}),

		RowsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Total number of rows processed, by outcome status",
		}, []string{"status"}),
		RowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "row_duration_seconds",
			Help:      "Time spent processing one row",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Total number of source page fetches, by status code",
		}, []string{"status_code"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Source page fetch duration",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 90},
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "path", "status_code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// RecordFetch records one source page fetch.
func (m *Metrics) RecordFetch(statusCode int, duration time.Duration) {
	m.FetchesTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

// RecordRequest records one API request.
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
