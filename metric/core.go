package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every metric this daemon exports.
const namespace = "rtl433"

// Metrics contains the core pipeline metrics shared across components.
// Component-specific metrics live in the components themselves and are
// registered through the MetricsRegistry.
type Metrics struct {
	// Pipeline metrics
	ReadingsReceived  prometheus.Counter
	ReadingsRejected  *prometheus.CounterVec // by reject reason
	EventsPublished   *prometheus.CounterVec // by change kind
	DevicesTracked    prometheus.Gauge
	DevicesAvailable  prometheus.Gauge
	UpsertDuration    prometheus.Histogram
	ComponentStatus   *prometheus.GaugeVec // by component, lifecycle state
	HealthCheckStatus *prometheus.GaugeVec // by component

	// Decoder process metrics
	ProcessState    prometheus.Gauge
	ProcessRestarts prometheus.Counter
	ProcessFailures *prometheus.CounterVec // by failure kind
	StderrLines     *prometheus.CounterVec // by classification
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ReadingsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "received_total",
				Help:      "Total decoder lines accepted as readings",
			},
		),

		ReadingsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "rejected_total",
				Help:      "Total decoder lines rejected, by reason",
			},
			[]string{"reason"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total change events delivered to subscribers, by kind",
			},
			[]string{"kind"},
		),

		DevicesTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "devices",
				Name:      "tracked",
				Help:      "Devices with retained state",
			},
		),

		DevicesAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "devices",
				Name:      "available",
				Help:      "Devices currently marked available",
			},
		),

		UpsertDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "upsert_duration_seconds",
				Help:      "Time to merge a reading into the device registry",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
			},
		),

		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "component",
				Name:      "status",
				Help:      "Component lifecycle state (0=created, 1=initialized, 2=started, 3=stopped, 4=failed)",
			},
			[]string{"component"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		ProcessState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "state",
				Help:      "Decoder process state (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
		),

		ProcessRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "restarts_total",
				Help:      "Total decoder process restarts",
			},
		),

		ProcessFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "failures_total",
				Help:      "Total decoder process failures, by kind",
			},
			[]string{"kind"},
		),

		StderrLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "stderr_lines_total",
				Help:      "Decoder stderr lines, by classification",
			},
			[]string{"class"},
		),
	}
}

// collectors returns every core metric for bulk registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsReceived,
		m.ReadingsRejected,
		m.EventsPublished,
		m.DevicesTracked,
		m.DevicesAvailable,
		m.UpsertDuration,
		m.ComponentStatus,
		m.HealthCheckStatus,
		m.ProcessState,
		m.ProcessRestarts,
		m.ProcessFailures,
		m.StderrLines,
	}
}
