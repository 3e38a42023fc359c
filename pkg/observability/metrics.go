package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Queue metrics
	QueueItemsTotal        *prometheus.CounterVec
	QueueDepth             *prometheus.GaugeVec
	QueuePassDuration      *prometheus.HistogramVec
	QueueMergesTotal       *prometheus.CounterVec
	QueueWaitTime          *prometheus.HistogramVec

	// Graph metrics
	GraphBuildDuration *prometheus.HistogramVec
	GraphNodesTotal    *prometheus.GaugeVec
	GraphCyclesTotal   *prometheus.GaugeVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergeplane_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergeplane_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergeplane_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		QueueItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergeplane_queue_items_total",
				Help: "Total number of queue item transitions",
			},
			[]string{"repository", "status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mergeplane_queue_depth",
				Help: "Current number of unmerged items in the queue",
			},
			[]string{"repository"},
		),
		QueuePassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergeplane_queue_pass_duration_seconds",
				Help:    "Queue processing pass duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"repository"},
		),
		QueueMergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergeplane_queue_merges_total",
				Help: "Total number of merges performed by the queue",
			},
			[]string{"repository", "result"},
		),
		QueueWaitTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergeplane_queue_wait_time_seconds",
				Help:    "Time items spend queued before reaching a terminal state",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"repository"},
		),

		GraphBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergeplane_graph_build_duration_seconds",
				Help:    "Dependency graph build duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"repository"},
		),
		GraphNodesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mergeplane_graph_nodes_total",
				Help: "Number of nodes in the last built dependency graph",
			},
			[]string{"repository"},
		),
		GraphCyclesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mergeplane_graph_cycles_total",
				Help: "Number of dependency cycles in the last built graph",
			},
			[]string{"repository"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergeplane_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergeplane_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_tier"},
		),

		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergeplane_provider_requests_total",
				Help: "Total number of hosting provider API requests",
			},
			[]string{"operation", "status"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergeplane_provider_request_duration_seconds",
				Help:    "Hosting provider API request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mergeplane_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mergeplane_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.QueueItemsTotal,
		m.QueueDepth,
		m.QueuePassDuration,
		m.QueueMergesTotal,
		m.QueueWaitTime,
		m.GraphBuildDuration,
		m.GraphNodesTotal,
		m.GraphCyclesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ProviderRequestsTotal,
		m.ProviderRequestDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// ObserveDBStats periodically copies database pool stats into gauges.
// Call from a goroutine owned by the caller; returns when done is closed.
func (m *Metrics) ObserveDBStats(stats func() (active, idle int), interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			active, idle := stats()
			m.DBConnectionsActive.Set(float64(active))
			m.DBConnectionsIdle.Set(float64(idle))
		}
	}
}
