package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// index and query stages.
type Metrics struct {
	RecordsIndexed prometheus.Counter
	FilesIndexed   prometheus.Counter
	FilesSkipped   prometheus.Counter
	IndexRunning   prometheus.Gauge

	QueryDuration      prometheus.Histogram
	QueriesTotal       *prometheus.CounterVec // labels: outcome={success,invalid,unavailable,error}
	PointsReturned     prometheus.Histogram
	ExtractionDuration prometheus.Histogram
	ExtractionFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsIndexed,
		m.FilesIndexed,
		m.FilesSkipped,
		m.IndexRunning,
		m.QueryDuration,
		m.QueriesTotal,
		m.PointsReturned,
		m.ExtractionDuration,
		m.ExtractionFailures,
	)
	return m
}

// NewMetricsForTesting creates Metrics without touching the default registry
// to avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grib_index",
			Name:      "records_indexed_total",
			Help:      "Total index rows inserted (new rows only; conflicts are ignored).",
		}),
		FilesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grib_index",
			Name:      "files_indexed_total",
			Help:      "Total corpus files scanned successfully.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grib_index",
			Name:      "files_skipped_total",
			Help:      "Corpus files skipped for unrecognized names or decode failures.",
		}),
		IndexRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grib_index",
			Name:      "indexing_running",
			Help:      "1 while a batch indexing job is active.",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "grib_index",
			Name:      "query_duration_seconds",
			Help:      "End-to-end duration of a query including extraction.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grib_index",
			Name:      "queries_total",
			Help:      "Queries by outcome.",
		}, []string{"outcome"}),
		PointsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "grib_index",
			Name:      "points_returned",
			Help:      "Grid points surviving the bounding-box crop per query.",
			Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
		}),
		ExtractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "grib_index",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of the parallel extraction stage per batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ExtractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grib_index",
			Name:      "extraction_failures_total",
			Help:      "Per-file extraction failures (logged and dropped, never fatal).",
		}),
	}
}
