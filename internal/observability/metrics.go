package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bikeshare"

// Metrics holds the Prometheus counters, histograms, and gauges for the collector.
type Metrics struct {
	// Feed metrics.
	FeedRequests        *prometheus.CounterVec   // labels: document, outcome={success,error}
	FeedRequestDuration *prometheus.HistogramVec // labels: document
	FeedParseErrors     *prometheus.CounterVec   // labels: document

	// Ingestion metrics.
	StationsReconciled *prometheus.CounterVec // labels: action={created,updated,unchanged,skipped}
	SnapshotsCreated   prometheus.Counter
	SnapshotsSkipped   prometheus.Counter

	// Aggregation metrics.
	AggregatesUpserted   *prometheus.CounterVec // labels: kind={reliability,hourly_average}
	AggregationErrors    *prometheus.CounterVec // labels: kind
	AggregationFallbacks prometheus.Counter

	// Scheduler metrics.
	SchedulerRunning prometheus.Gauge
	JobRuns          *prometheus.CounterVec   // labels: job, status
	JobSuppressed    *prometheus.CounterVec   // labels: job
	JobDuration      *prometheus.HistogramVec // labels: job
	JobRunning       *prometheus.GaugeVec     // labels: job

	// Worker pool metrics.
	WorkerTasks      *prometheus.CounterVec // labels: outcome={success,error,panic,dropped}
	WorkerQueueDepth prometheus.Gauge

	SyncLogWriteErrors prometheus.Counter

	// HTTP metrics.
	HTTPRequests        *prometheus.CounterVec   // labels: method, route, code
	HTTPRequestDuration *prometheus.HistogramVec // labels: method, route
}

// NewMetrics creates and registers all collector metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "GBFS document fetches by document and outcome.",
		}, []string{"document", "outcome"}),
		FeedRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_request_duration_seconds",
			Help:      "GBFS document fetch duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"document"}),
		FeedParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_parse_errors_total",
			Help:      "Malformed feed records skipped, by document.",
		}, []string{"document"}),
		StationsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stations_reconciled_total",
			Help:      "Stations handled by reconciliation, by action.",
		}, []string{"action"}),
		SnapshotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_created_total",
			Help:      "Availability snapshots persisted.",
		}),
		SnapshotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_skipped_total",
			Help:      "Live statuses skipped because their station is unknown.",
		}),
		AggregatesUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregates_upserted_total",
			Help:      "Aggregate rows written, by kind.",
		}, []string{"kind"}),
		AggregationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_errors_total",
			Help:      "Per-station aggregation failures, by kind.",
		}, []string{"kind"}),
		AggregationFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_fallbacks_total",
			Help:      "Hourly average refreshes that fell back to client-side grouping.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the job scheduler is active, 0 when stopped.",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Completed job runs by job and result status.",
		}, []string{"job", "status"}),
		JobSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_suppressed_total",
			Help:      "Triggers skipped because the job was already running.",
		}, []string{"job"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job run duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"}),
		JobRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_running",
			Help:      "1 while a job is executing.",
		}, []string{"job"}),
		WorkerTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_tasks_total",
			Help:      "Background tasks by outcome.",
		}, []string{"outcome"}),
		WorkerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Background tasks waiting for a worker.",
		}),
		SyncLogWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synclog_write_errors_total",
			Help:      "Sync log writes or publishes that failed.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status code.",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FeedRequests,
		m.FeedRequestDuration,
		m.FeedParseErrors,
		m.StationsReconciled,
		m.SnapshotsCreated,
		m.SnapshotsSkipped,
		m.AggregatesUpserted,
		m.AggregationErrors,
		m.AggregationFallbacks,
		m.SchedulerRunning,
		m.JobRuns,
		m.JobSuppressed,
		m.JobDuration,
		m.JobRunning,
		m.WorkerTasks,
		m.WorkerQueueDepth,
		m.SyncLogWriteErrors,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	}
}
