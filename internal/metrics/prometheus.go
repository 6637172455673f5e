package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the client core
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Pipeline
	statementsTotal   *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	activeRequests    prometheus.Gauge

	// Pool
	poolConnections  *prometheus.GaugeVec
	poolWaiters      *prometheus.GaugeVec
	acquireTotal     *prometheus.CounterVec
	acquireWait      *prometheus.HistogramVec
	connsCreated     *prometheus.CounterVec
	connsDestroyed   *prometheus.CounterVec
	connsBrokenTotal *prometheus.CounterVec
}

// Default histogram buckets for statement duration (in milliseconds)
var defaultBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var promMetrics atomic.Pointer[PrometheusMetrics]

// InitPrometheus initializes the Prometheus metrics subsystem. Calling it
// again replaces the registry.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		statementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_total",
				Help:      "Total number of statements executed",
			},
			[]string{"op", "status"},
		),

		statementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "statement_duration_milliseconds",
				Help:      "Duration of statement execution in milliseconds, excluding pool wait",
				Buckets:   buckets,
			},
			[]string{"op"},
		),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed requests by error kind",
			},
			[]string{"kind"},
		),

		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of requests between creation and completion",
			},
		),

		poolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections",
				Help:      "Connections in the pool by state",
			},
			[]string{"pool", "state"},
		),

		poolWaiters: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_waiters",
				Help:      "Acquisition requests queued waiting for a connection",
			},
			[]string{"pool"},
		),

		acquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_acquire_total",
				Help:      "Connection acquisitions by outcome",
			},
			[]string{"pool", "result"},
		),

		acquireWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_acquire_wait_milliseconds",
				Help:      "Time spent queued before a connection was handed out",
				Buckets:   buckets,
			},
			[]string{"pool"},
		),

		connsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_created_total",
				Help:      "Total connections opened",
			},
			[]string{"pool"},
		),

		connsDestroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_destroyed_total",
				Help:      "Total connections closed",
			},
			[]string{"pool"},
		),

		connsBrokenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connections_broken_total",
				Help:      "Connections discarded after an I/O failure",
			},
			[]string{"pool"},
		),
	}

	registry.MustRegister(
		pm.statementsTotal,
		pm.statementDuration,
		pm.errorsTotal,
		pm.activeRequests,
		pm.poolConnections,
		pm.poolWaiters,
		pm.acquireTotal,
		pm.acquireWait,
		pm.connsCreated,
		pm.connsDestroyed,
		pm.connsBrokenTotal,
	)

	promMetrics.Store(pm)
}

// RecordStatement records one completed statement
func RecordStatement(op string, duration time.Duration, success bool) {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	pm.statementsTotal.WithLabelValues(op, status).Inc()
	pm.statementDuration.WithLabelValues(op).Observe(float64(duration) / float64(time.Millisecond))
}

// RecordError records a failed request by error kind
func RecordError(kind string) {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	pm.errorsTotal.WithLabelValues(kind).Inc()
}

// IncActiveRequests increments the active requests gauge
func IncActiveRequests() {
	if pm := promMetrics.Load(); pm != nil {
		pm.activeRequests.Inc()
	}
}

// DecActiveRequests decrements the active requests gauge
func DecActiveRequests() {
	if pm := promMetrics.Load(); pm != nil {
		pm.activeRequests.Dec()
	}
}

// SetPoolSize sets the connection gauges for a pool
func SetPoolSize(pool string, idle, inUse, opening, waiters int) {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	pm.poolConnections.WithLabelValues(pool, "idle").Set(float64(idle))
	pm.poolConnections.WithLabelValues(pool, "in_use").Set(float64(inUse))
	pm.poolConnections.WithLabelValues(pool, "opening").Set(float64(opening))
	pm.poolWaiters.WithLabelValues(pool).Set(float64(waiters))
}

// RecordAcquire records the outcome of a connection acquisition. wait is
// only observed for acquisitions that were handed a connection.
func RecordAcquire(pool, result string, wait time.Duration) {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	pm.acquireTotal.WithLabelValues(pool, result).Inc()
	if result == "ok" {
		pm.acquireWait.WithLabelValues(pool).Observe(float64(wait) / float64(time.Millisecond))
	}
}

// RecordConnCreated records a connection open
func RecordConnCreated(pool string) {
	if pm := promMetrics.Load(); pm != nil {
		pm.connsCreated.WithLabelValues(pool).Inc()
	}
}

// RecordConnDestroyed records a connection close
func RecordConnDestroyed(pool string) {
	if pm := promMetrics.Load(); pm != nil {
		pm.connsDestroyed.WithLabelValues(pool).Inc()
	}
}

// RecordConnBroken records a connection discarded after an I/O failure
func RecordConnBroken(pool string) {
	if pm := promMetrics.Load(); pm != nil {
		pm.connsBrokenTotal.WithLabelValues(pool).Inc()
	}
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	pm := promMetrics.Load()
	if pm == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	pm := promMetrics.Load()
	if pm == nil {
		return nil
	}
	return pm.registry
}
