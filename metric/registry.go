package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/annostream/errors"
)

// MetricsRegistrar defines the interface for registering service-specific metrics
type MetricsRegistrar interface {
	RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error
	RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error
	RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error
	Unregister(serviceName, metricName string) bool
}

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	core               *CoreMetricsRecorder
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core platform metrics
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.core = &CoreMetricsRecorder{metrics: registry.Metrics}
	registry.registerCoreMetrics()

	// Add Go runtime metrics
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the recorder for core platform metrics
func (r *MetricsRegistry) CoreMetrics() *CoreMetricsRecorder {
	return r.core
}

// registerCoreMetrics registers all core platform metrics
func (r *MetricsRegistry) registerCoreMetrics() {
	m := r.Metrics
	r.prometheusRegistry.MustRegister(
		m.ServiceStatus,
		m.ErrorsTotal,
		m.Dispatches,
		m.SessionsActive,
		m.SessionsReaped,
		m.UnitsDelivered,
		m.BatchesSent,
		m.DeliveryDuration,
		m.NATSConnected,
		m.NATSReconnects,
	)
}

// register adds a collector under a namespaced key, rejecting duplicates
func (r *MetricsRegistry) register(serviceName, metricName string, collector prometheus.Collector) error {
	key := fmt.Sprintf("%s.%s", serviceName, metricName)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", "register", "duplicate metric")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		return errors.WrapInvalid(err, "MetricsRegistry", "register", "prometheus registration")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// RegisterCounter registers a service-specific counter
func (r *MetricsRegistry) RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error {
	return r.register(serviceName, metricName, counter)
}

// RegisterGauge registers a service-specific gauge
func (r *MetricsRegistry) RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error {
	return r.register(serviceName, metricName, gauge)
}

// RegisterHistogram registers a service-specific histogram
func (r *MetricsRegistry) RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error {
	return r.register(serviceName, metricName, histogram)
}

// RegisterCounterVec registers a service-specific counter vector
func (r *MetricsRegistry) RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error {
	return r.register(serviceName, metricName, counterVec)
}

// RegisterGaugeVec registers a service-specific gauge vector
func (r *MetricsRegistry) RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error {
	return r.register(serviceName, metricName, gaugeVec)
}

// Unregister removes a previously registered metric
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	key := fmt.Sprintf("%s.%s", serviceName, metricName)

	r.mu.Lock()
	defer r.mu.Unlock()

	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	delete(r.registeredMetrics, key)
	return r.prometheusRegistry.Unregister(collector)
}
