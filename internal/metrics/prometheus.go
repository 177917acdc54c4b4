package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for fabrickv metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	opsTotal          *prometheus.CounterVec
	directOpsTotal    prometheus.Counter
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	bytesSentTotal    prometheus.Counter
	bytesRecvTotal    prometheus.Counter
	allocTotal        *prometheus.CounterVec
	regionsAddedTotal prometheus.Counter

	// Histograms
	opLatency *prometheus.HistogramVec

	// Gauges
	uptime          prometheus.GaugeFunc
	connectionsOpen prometheus.Gauge
	slotsInUse      prometheus.Gauge
}

// Default histogram buckets for op latency (in microseconds).
var defaultBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		opsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_total",
				Help:      "Total number of IO ops by op and status",
			},
			[]string{"op", "status"},
		),

		directOpsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "direct_ops_total",
				Help:      "Total number of two-stage (direct) transfer ops",
			},
		),

		connectionsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_opened_total",
				Help:      "Total fabric connections accepted",
			},
		),

		connectionsClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_closed_total",
				Help:      "Total accepted fabric connections that have closed",
			},
		),

		bytesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_sent_total",
				Help:      "Total bytes sent over the fabric transport",
			},
		),

		bytesRecvTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_received_total",
				Help:      "Total bytes received over the fabric transport",
			},
		),

		allocTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocations_total",
				Help:      "Region-map allocation attempts by outcome",
			},
			[]string{"outcome"},
		),

		regionsAddedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regions_added_total",
				Help:      "Total regions registered with the allocator",
			},
		),

		opLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "op_latency_microseconds",
				Help:      "Latency of IO ops in microseconds",
				Buckets:   buckets,
			},
			[]string{"op", "direct"},
		),

		connectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_open",
				Help:      "Current number of open accepted fabric connections",
			},
		),

		slotsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "allocator_slots_in_use",
				Help:      "Current number of region-map slots allocated",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the fabrickv daemon started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.opsTotal,
		pm.directOpsTotal,
		pm.connectionsOpened,
		pm.connectionsClosed,
		pm.bytesSentTotal,
		pm.bytesRecvTotal,
		pm.allocTotal,
		pm.regionsAddedTotal,
		pm.opLatency,
		pm.uptime,
		pm.connectionsOpen,
		pm.slotsInUse,
	)

	promMetrics = pm
}

// RecordPrometheusIO records an IO op in Prometheus collectors.
func RecordPrometheusIO(op string, latencyUs int64, direct bool, success bool) {
	if promMetrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.opsTotal.WithLabelValues(op, status).Inc()

	if direct {
		promMetrics.directOpsTotal.Inc()
	}

	directLabel := "false"
	if direct {
		directLabel = "true"
	}
	promMetrics.opLatency.WithLabelValues(op, directLabel).Observe(float64(latencyUs))
}

// RecordPrometheusConnectionOpened records a newly accepted connection.
func RecordPrometheusConnectionOpened() {
	if promMetrics == nil {
		return
	}
	promMetrics.connectionsOpened.Inc()
	promMetrics.connectionsOpen.Inc()
}

// RecordPrometheusConnectionClosed records an accepted connection closing.
func RecordPrometheusConnectionClosed() {
	if promMetrics == nil {
		return
	}
	promMetrics.connectionsClosed.Inc()
	promMetrics.connectionsOpen.Dec()
}

// RecordPrometheusBytes records fabric transport byte counts.
func RecordPrometheusBytes(sent, received int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.bytesSentTotal.Add(float64(sent))
	promMetrics.bytesRecvTotal.Add(float64(received))
}

// RecordPrometheusAllocation records a region-map allocation outcome.
func RecordPrometheusAllocation(ok bool) {
	if promMetrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	promMetrics.allocTotal.WithLabelValues(outcome).Inc()
	if ok {
		promMetrics.slotsInUse.Inc()
	}
}

// RecordPrometheusFree records a region-map slot being released.
func RecordPrometheusFree() {
	if promMetrics == nil {
		return
	}
	promMetrics.slotsInUse.Dec()
}

// RecordPrometheusRegionAdded records a new region registration.
func RecordPrometheusRegionAdded() {
	if promMetrics == nil {
		return
	}
	promMetrics.regionsAddedTotal.Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
