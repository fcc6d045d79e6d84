// Package metrics provides Prometheus metrics for the routing core.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "avrouting"
)

// RoutingMetrics holds all routing-core Prometheus metrics.
type RoutingMetrics struct {
	SelectionsTotal      *prometheus.CounterVec
	SelectionMissesTotal *prometheus.CounterVec
	ActiveConnections    *prometheus.GaugeVec
	PoolSize             *prometheus.GaugeVec
	InstancesPrunedTotal *prometheus.CounterVec
	ProbesTotal          *prometheus.CounterVec
	ProbeDurationSeconds *prometheus.HistogramVec
	HealthCacheHitsTotal *prometheus.CounterVec
	HealthStatus         *prometheus.GaugeVec
	RegisteredServices   prometheus.Gauge
	ConfigReloadsTotal   *prometheus.CounterVec
}

var (
	routingMetricsInstance *RoutingMetrics
	routingMetricsOnce     sync.Once
)

// NewRoutingMetrics creates a RoutingMetrics instance with all metrics
// registered via promauto on the default global registry.
func NewRoutingMetrics() *RoutingMetrics {
	return &RoutingMetrics{
		SelectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "selections_total",
				Help:      "Total number of instance selections",
			},
			[]string{"service", "strategy"},
		),
		SelectionMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "selection_misses_total",
				Help:      "Selections that found no instance",
			},
			[]string{"service", "strategy"},
		),
		ActiveConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "active_connections",
				Help:      "In-flight connections per instance",
			},
			[]string{"address"},
		),
		PoolSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "pool_size",
				Help:      "Number of instances in the service pool",
			},
			[]string{"service"},
		),
		InstancesPrunedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "balancer",
				Name:      "instances_pruned_total",
				Help:      "Instances removed by health-driven pruning",
			},
			[]string{"service"},
		),
		ProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "probes_total",
				Help:      "Total number of health probes",
			},
			[]string{"service", "status"},
		),
		ProbeDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "probe_duration_seconds",
				Help:      "Health probe duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		HealthCacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "health_cache_hits_total",
				Help:      "Health checks served from the TTL cache",
			},
			[]string{"service"},
		),
		HealthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "health_status",
				Help:      "Last known health status (1=healthy, 0=unhealthy, -1=unknown)",
			},
			[]string{"service"},
		),
		RegisteredServices: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "registered_services",
				Help:      "Number of registered services",
			},
		),
		ConfigReloadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "core",
				Name:      "config_reloads_total",
				Help:      "Configuration reloads by result",
			},
			[]string{"result"},
		),
	}
}

// GetRoutingMetrics returns the singleton RoutingMetrics instance.
func GetRoutingMetrics() *RoutingMetrics {
	routingMetricsOnce.Do(func() {
		routingMetricsInstance = NewRoutingMetrics()
	})
	return routingMetricsInstance
}

// RecordProbe records the outcome and duration of a health probe.
func (m *RoutingMetrics) RecordProbe(service, status string, duration time.Duration) {
	m.ProbesTotal.WithLabelValues(service, status).Inc()
	m.ProbeDurationSeconds.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordSelection records an instance selection attempt.
func (m *RoutingMetrics) RecordSelection(service, strategy string, found bool) {
	if found {
		m.SelectionsTotal.WithLabelValues(service, strategy).Inc()
	} else {
		m.SelectionMissesTotal.WithLabelValues(service, strategy).Inc()
	}
}
