package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRegistry holds all Prometheus metrics for the engine
type MetricsRegistry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Database Metrics
	DBQueriesTotal  *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec

	// Cache Metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Engine Metrics
	EvaluationsTotal     *prometheus.CounterVec
	EvaluationDuration   *prometheus.HistogramVec
	TicksDroppedTotal    prometheus.Counter
	CascadeSize          prometheus.Histogram
	PointsScheduled      *prometheus.GaugeVec
	ResultBatchesTotal   *prometheus.CounterVec
	HistoryPrunedTotal   prometheus.Counter
	DataPointEventsTotal prometheus.Counter
}

// NewMetricsRegistry registers all metrics with the default registerer
func NewMetricsRegistry() *MetricsRegistry {
	return NewMetricsRegistryWith(prometheus.DefaultRegisterer)
}

// NewMetricsRegistryWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewMetricsRegistryWith(reg prometheus.Registerer) *MetricsRegistry {
	f := promauto.With(reg)
	return &MetricsRegistry{
		// HTTP Metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vpengine_http_requests_total",
				Help: "Total HTTP requests processed by endpoint, method, and status code",
			},
			[]string{"endpoint", "method", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vpengine_http_request_duration_seconds",
				Help:    "HTTP request latency distribution in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "method"},
		),
		HTTPRequestsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vpengine_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method"},
		),

		// Database Metrics
		DBQueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vpengine_db_queries_total",
				Help: "Total database queries by operation type",
			},
			[]string{"query_type"},
		),
		DBQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vpengine_db_query_duration_seconds",
				Help:    "Database query execution time in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"query_type"},
		),

		// Cache Metrics
		CacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vpengine_cache_hits_total",
				Help: "Total cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vpengine_cache_misses_total",
				Help: "Total cache misses by cache name",
			},
			[]string{"cache"},
		),

		// Engine Metrics
		EvaluationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vpengine_evaluations_total",
				Help: "Virtual point runs by trigger and outcome",
			},
			[]string{"trigger", "status"},
		),
		EvaluationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vpengine_evaluation_duration_seconds",
				Help:    "Resolve plus evaluate time per run in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"trigger"},
		),
		TicksDroppedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vpengine_ticks_dropped_total",
				Help: "Periodic ticks skipped because the point was still calculating",
			},
		),
		CascadeSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vpengine_cascade_size",
				Help:    "Number of points recomputed per on-change cascade",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		PointsScheduled: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vpengine_points_scheduled",
				Help: "Enabled points currently registered with the scheduler",
			},
			[]string{"trigger"},
		),
		ResultBatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vpengine_result_batches_total",
				Help: "Runtime state flushes by outcome",
			},
			[]string{"status"},
		),
		HistoryPrunedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vpengine_history_pruned_total",
				Help: "Execution history rows removed by the retention job",
			},
		),
		DataPointEventsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vpengine_datapoint_events_total",
				Help: "Data point change notifications received",
			},
		),
	}
}
