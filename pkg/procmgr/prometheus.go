package procmgr

import (
	"time"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	// Capacity metrics
	slotsInUse        *prometheus.GaugeVec
	queueDepth        prometheus.Gauge
	registeredWorkers prometheus.Gauge

	// Spawn metrics
	spawnRequests *prometheus.CounterVec
	spawnsQueued  *prometheus.CounterVec
	spareUses     *prometheus.CounterVec
	bindDuration  *prometheus.HistogramVec

	// Lifecycle metrics
	connects     *prometheus.CounterVec
	terminations *prometheus.CounterVec
	violations   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "worker_launcher"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.slotsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slots_in_use",
			Help:      "Number of allocated worker slots per isolation class",
		},
		[]string{"class"},
	)

	pmc.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_spawn_queue_depth",
			Help:      "Current depth of the pending spawn queue",
		},
	)

	pmc.registeredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_workers",
			Help:      "Number of connected workers in the service registry",
		},
	)

	pmc.spawnRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_requests_total",
			Help:      "Total number of spawn requests",
		},
		[]string{"class", "process_type"},
	)

	pmc.spawnsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_queued_total",
			Help:      "Total number of spawn requests queued for lack of a slot",
		},
		[]string{"class"},
	)

	pmc.spareUses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warm_spare_lookups_total",
			Help:      "Warm spare lookups by sandboxed starts",
		},
		[]string{"result"},
	)

	pmc.bindDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bind_duration_seconds",
			Help:      "Duration of platform bind operations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"class", "status"},
	)

	pmc.connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_connects_total",
			Help:      "Worker setup outcomes",
		},
		[]string{"class", "status"},
	)

	pmc.terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_terminations_total",
			Help:      "Terminated worker connections by reason",
		},
		[]string{"class", "reason"},
	)

	pmc.violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Internal bookkeeping violations, each one is a bug",
		},
		[]string{"kind"},
	)

	pmc.registry.MustRegister(
		pmc.slotsInUse,
		pmc.queueDepth,
		pmc.registeredWorkers,
		pmc.spawnRequests,
		pmc.spawnsQueued,
		pmc.spareUses,
		pmc.bindDuration,
		pmc.connects,
		pmc.terminations,
		pmc.violations,
	)

	return pmc
}

// SlotsInUse records the allocated slot count of a pool
func (pmc *PrometheusMetricsCollector) SlotsInUse(class isolation.Class, count int) {
	pmc.slotsInUse.WithLabelValues(class.String()).Set(float64(count))
}

// SpawnRequested records an incoming spawn request
func (pmc *PrometheusMetricsCollector) SpawnRequested(class isolation.Class, processType isolation.ProcessType) {
	pmc.spawnRequests.WithLabelValues(class.String(), processType.String()).Inc()
}

// SpawnQueued records a queued request
func (pmc *PrometheusMetricsCollector) SpawnQueued(class isolation.Class) {
	pmc.spawnsQueued.WithLabelValues(class.String()).Inc()
}

// QueueDepth records the current pending queue length
func (pmc *PrometheusMetricsCollector) QueueDepth(depth int) {
	pmc.queueDepth.Set(float64(depth))
}

// SpareConsumed records a warm spare lookup
func (pmc *PrometheusMetricsCollector) SpareConsumed(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pmc.spareUses.WithLabelValues(result).Inc()
}

// BindDuration records the duration of a bind
func (pmc *PrometheusMetricsCollector) BindDuration(class isolation.Class, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pmc.bindDuration.WithLabelValues(class.String(), status).Observe(duration.Seconds())
}

// WorkerConnected records a setup outcome
func (pmc *PrometheusMetricsCollector) WorkerConnected(class isolation.Class, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	pmc.connects.WithLabelValues(class.String(), status).Inc()
}

// WorkerTerminated records a terminated connection
func (pmc *PrometheusMetricsCollector) WorkerTerminated(class isolation.Class, reason string) {
	pmc.terminations.WithLabelValues(class.String(), reason).Inc()
}

// RegisteredWorkers records the registry size
func (pmc *PrometheusMetricsCollector) RegisteredWorkers(count int) {
	pmc.registeredWorkers.Set(float64(count))
}

// InvariantViolation records an internal bookkeeping bug
func (pmc *PrometheusMetricsCollector) InvariantViolation(kind string) {
	pmc.violations.WithLabelValues(kind).Inc()
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Compile-time interface compliance check
var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
