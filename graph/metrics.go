package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects workflow execution metrics.
//
// Metrics exposed (namespace "insight"):
//
//	insight_step_latency_ms{node_id,status}      node execution time
//	insight_routes_total{from,to}                edges taken, terminals included
//	insight_degraded_total{node_id}              degrade-tolerant node failures
//	insight_runs_total{outcome}                  runs by terminal: done, failed, cancelled, error
//	insight_inflight_runs                        runs currently executing
//	insight_batch_items_total{status}            batch items by outcome: success, error, timeout
//	insight_batch_item_latency_ms{status}        batch item duration
//
// Labels deliberately omit run IDs to keep cardinality bounded.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(reduce, emitter, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	stepLatency *prometheus.HistogramVec
	routes      *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	runs        *prometheus.CounterVec
	inflight    prometheus.Gauge

	batchItems   *prometheus.CounterVec
	batchLatency *prometheus.HistogramVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all collectors.
// A nil registry falls back to prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)
	buckets := []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000}

	return &PrometheusMetrics{
		enabled: true,
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insight",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   buckets,
		}, []string{"node_id", "status"}),
		routes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Name:      "routes_total",
			Help:      "Edges taken between nodes, including terminals",
		}, []string{"from", "to"}),
		degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Name:      "degraded_total",
			Help:      "Failures absorbed by degrade-tolerant nodes",
		}, []string{"node_id"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Name:      "runs_total",
			Help:      "Workflow runs by outcome",
		}, []string{"outcome"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "insight",
			Name:      "inflight_runs",
			Help:      "Workflow runs currently executing",
		}),
		batchItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Name:      "batch_items_total",
			Help:      "Batch sub-task items by outcome",
		}, []string{"status"}),
		batchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insight",
			Name:      "batch_item_latency_ms",
			Help:      "Batch sub-task item duration in milliseconds",
			Buckets:   buckets,
		}, []string{"status"}),
	}
}

func (pm *PrometheusMetrics) isEnabled() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency records how long a node took.
// Status is one of: success, error, timeout, invalid.
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// RecordRoute counts one traversal of the edge from -> to.
func (pm *PrometheusMetrics) RecordRoute(from, to string) {
	if !pm.isEnabled() {
		return
	}
	pm.routes.WithLabelValues(from, to).Inc()
}

// IncrementDegraded counts a failure absorbed by a degrade-tolerant node.
func (pm *PrometheusMetrics) IncrementDegraded(nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.degraded.WithLabelValues(nodeID).Inc()
}

// RecordRun counts a finished run by outcome.
func (pm *PrometheusMetrics) RecordRun(outcome string) {
	if !pm.isEnabled() {
		return
	}
	pm.runs.WithLabelValues(outcome).Inc()
}

// AddInflight adjusts the in-flight run gauge by delta.
func (pm *PrometheusMetrics) AddInflight(delta int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflight.Add(float64(delta))
}

// ObserveItem records one batch sub-task outcome. It satisfies
// batch.Observer so a runner can report into the same registry.
func (pm *PrometheusMetrics) ObserveItem(status string, latency time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.batchItems.WithLabelValues(status).Inc()
	pm.batchLatency.WithLabelValues(status).Observe(float64(latency.Milliseconds()))
}

// Disable stops metric recording without unregistering collectors.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
