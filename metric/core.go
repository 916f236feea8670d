package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not domain-specific)
type Metrics struct {
	// Service metrics
	ServiceStatus *prometheus.GaugeVec
	ErrorsTotal   *prometheus.CounterVec

	// Router metrics
	Dispatches *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsReaped prometheus.Counter

	// Delivery metrics
	UnitsDelivered   *prometheus.CounterVec
	BatchesSent      *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "annostream",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping)",
			},
			[]string{"service"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "annostream",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type"},
		),

		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "annostream",
				Subsystem: "router",
				Name:      "dispatches_total",
				Help:      "Total routed requests by action and outcome",
			},
			[]string{"action", "status"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "annostream",
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Number of live peer sessions",
			},
		),

		SessionsReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "annostream",
				Subsystem: "sessions",
				Name:      "reaped_total",
				Help:      "Total sessions removed by the staleness reaper",
			},
		),

		UnitsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "annostream",
				Subsystem: "highlights",
				Name:      "units_total",
				Help:      "Total delivery units by outcome",
			},
			[]string{"status"},
		),

		BatchesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "annostream",
				Subsystem: "highlights",
				Name:      "batches_total",
				Help:      "Total delivery batches by outcome",
			},
			[]string{"status"},
		),

		DeliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "annostream",
				Subsystem: "highlights",
				Name:      "delivery_duration_seconds",
				Help:      "End-to-end duration of a delivery run",
				Buckets:   prometheus.DefBuckets,
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "annostream",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "annostream",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total NATS reconnections",
			},
		),
	}
}

// CoreMetricsRecorder provides convenience methods for recording core metrics
type CoreMetricsRecorder struct {
	metrics *Metrics
}

// RecordServiceStatus records the current status of a service
func (c *CoreMetricsRecorder) RecordServiceStatus(service string, status int) {
	c.metrics.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordError increments the error counter for a service
func (c *CoreMetricsRecorder) RecordError(service, errType string) {
	c.metrics.ErrorsTotal.WithLabelValues(service, errType).Inc()
}

// RecordDispatch counts one routed request
func (c *CoreMetricsRecorder) RecordDispatch(action, status string) {
	if action == "" {
		action = "_none"
	}
	c.metrics.Dispatches.WithLabelValues(action, status).Inc()
}

// SetSessionsActive records the current live session count
func (c *CoreMetricsRecorder) SetSessionsActive(n int) {
	c.metrics.SessionsActive.Set(float64(n))
}

// AddSessionsReaped counts sessions removed by the reaper
func (c *CoreMetricsRecorder) AddSessionsReaped(n int) {
	c.metrics.SessionsReaped.Add(float64(n))
}

// RecordUnits counts delivery units by outcome ("sent" or "failed")
func (c *CoreMetricsRecorder) RecordUnits(status string, n int) {
	c.metrics.UnitsDelivered.WithLabelValues(status).Add(float64(n))
}

// RecordBatch counts one delivery batch by outcome
func (c *CoreMetricsRecorder) RecordBatch(status string) {
	c.metrics.BatchesSent.WithLabelValues(status).Inc()
}

// ObserveDeliveryDuration records the duration of a delivery run
func (c *CoreMetricsRecorder) ObserveDeliveryDuration(d time.Duration) {
	c.metrics.DeliveryDuration.Observe(d.Seconds())
}

// SetNATSConnected records the NATS connection state
func (c *CoreMetricsRecorder) SetNATSConnected(connected bool) {
	if connected {
		c.metrics.NATSConnected.Set(1)
	} else {
		c.metrics.NATSConnected.Set(0)
	}
}

// AddNATSReconnect counts one NATS reconnection
func (c *CoreMetricsRecorder) AddNATSReconnect() {
	c.metrics.NATSReconnects.Inc()
}
