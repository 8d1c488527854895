// Package metrics exposes the agent's own operational counters in
// Prometheus format. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostagent"

// Metrics holds the agent's self-instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	cycles            prometheus.Counter
	skippedCycles     prometheus.Counter
	collectorFailures *prometheus.CounterVec
	collectorDuration *prometheus.HistogramVec
	deliveryAttempts  *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	buffered          prometheus.Gauge
	dropped           prometheus.Counter
}

// New creates Metrics registered on a private registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_cycles_total",
			Help:      "Completed collection cycles.",
		}),
		skippedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_cycles_skipped_total",
			Help:      "Collection cycles skipped because no identity was assigned.",
		}),
		collectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_failures_total",
			Help:      "Collector invocations that returned an error.",
		}, []string{"collector"}),
		collectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_duration_seconds",
			Help:      "Time spent in each collector invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"collector"}),
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "HTTP attempts made by the delivery client, including retries.",
		}, []string{"operation"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery operations by final outcome after retries.",
		}, []string{"operation", "result"}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_snapshots",
			Help:      "Snapshots waiting in the metric buffer.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_snapshots_total",
			Help:      "Snapshots evicted from a full metric buffer.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.skippedCycles,
		m.collectorFailures,
		m.collectorDuration,
		m.deliveryAttempts,
		m.deliveries,
		m.buffered,
		m.dropped,
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CycleCompleted counts a finished collection cycle.
func (m *Metrics) CycleCompleted() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

// CycleSkipped counts a cycle skipped for lack of identity.
func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.skippedCycles.Inc()
}

// ObserveCollector records one collector invocation.
func (m *Metrics) ObserveCollector(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.collectorDuration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		m.collectorFailures.WithLabelValues(name).Inc()
	}
}

// DeliveryAttempt counts one HTTP attempt of operation.
func (m *Metrics) DeliveryAttempt(operation string) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(operation).Inc()
}

// DeliveryResult records the final outcome of operation.
func (m *Metrics) DeliveryResult(operation string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.deliveries.WithLabelValues(operation, result).Inc()
}

// SetBuffered reports the current buffer length.
func (m *Metrics) SetBuffered(n int) {
	if m == nil {
		return
	}
	m.buffered.Set(float64(n))
}

// AddDropped counts evicted snapshots.
func (m *Metrics) AddDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.Add(float64(n))
}
