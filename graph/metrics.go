// Package graph provides the core workflow DAG execution engine.
package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RuntimeMetrics exposes Prometheus-compatible metrics for workflow
// execution monitoring, namespaced under "graphrun_":
//
//  1. inflight_nodes (gauge): nodes executing concurrently (unlabeled; the
//     most recent update from any execution wins).
//  2. queue_depth (gauge): pending nodes waiting for a resource slot.
//  3. step_latency_ms (histogram): node execution duration, labeled by
//     execution, node, and status (completed/failed/timeout).
//  4. retries_total (counter): cumulative retry attempts.
//  5. merge_conflicts_total (counter): concurrent state merge conflicts.
//  6. backpressure_events_total (counter): pool saturation events.
//
// All methods are safe for concurrent use.
type RuntimeMetrics struct {
	inflightNodes prometheus.Gauge
	queueDepth    prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	retries        *prometheus.CounterVec
	mergeConflicts *prometheus.CounterVec
	backpressure   *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewRuntimeMetrics creates and registers every execution metric with the
// given Prometheus registry. Pass prometheus.DefaultRegisterer for the
// global registry, or a fresh prometheus.NewRegistry() for isolation
// (recommended in tests, since metric names collide on re-registration).
func NewRuntimeMetrics(registry prometheus.Registerer) *RuntimeMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	rm := &RuntimeMetrics{
		registry: registry,
		enabled:  true,
	}

	rm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "graphrun",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes executing concurrently",
	})

	rm.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "graphrun",
		Name:      "queue_depth",
		Help:      "Number of ready nodes waiting for a resource pool slot",
	})

	rm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "graphrun",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds (from dispatch to completion)",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"execution_id", "node_id", "status"})

	rm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphrun",
		Name:      "retries_total",
		Help:      "Cumulative count of node retry attempts",
	}, []string{"execution_id", "node_id", "reason"})

	rm.mergeConflicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphrun",
		Name:      "merge_conflicts_total",
		Help:      "Concurrent checkpoint/state write conflicts detected",
	}, []string{"execution_id", "conflict_type"})

	rm.backpressure = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphrun",
		Name:      "backpressure_events_total",
		Help:      "Resource pool saturation events",
	}, []string{"execution_id", "reason"})

	return rm
}

// RecordStepLatency records the duration of one node dispatch.
func (rm *RuntimeMetrics) RecordStepLatency(executionID, nodeID string, latency time.Duration, status string) {
	if !rm.isEnabled() {
		return
	}
	rm.stepLatency.WithLabelValues(executionID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries records one retry attempt for a node.
func (rm *RuntimeMetrics) IncrementRetries(executionID, nodeID, reason string) {
	if !rm.isEnabled() {
		return
	}
	rm.retries.WithLabelValues(executionID, nodeID, reason).Inc()
}

// UpdateQueueDepth sets the current count of ready-but-unscheduled nodes.
func (rm *RuntimeMetrics) UpdateQueueDepth(depth int) {
	if !rm.isEnabled() {
		return
	}
	rm.queueDepth.Set(float64(depth))
}

// UpdateInflightNodes sets the current count of executing nodes.
func (rm *RuntimeMetrics) UpdateInflightNodes(count int) {
	if !rm.isEnabled() {
		return
	}
	rm.inflightNodes.Set(float64(count))
}

// IncrementMergeConflicts records one concurrent state write conflict.
func (rm *RuntimeMetrics) IncrementMergeConflicts(executionID, conflictType string) {
	if !rm.isEnabled() {
		return
	}
	rm.mergeConflicts.WithLabelValues(executionID, conflictType).Inc()
}

// IncrementBackpressure records one pool saturation event.
func (rm *RuntimeMetrics) IncrementBackpressure(executionID, reason string) {
	if !rm.isEnabled() {
		return
	}
	rm.backpressure.WithLabelValues(executionID, reason).Inc()
}

func (rm *RuntimeMetrics) isEnabled() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.enabled
}

// Disable turns off metric recording (useful in tests that don't want a
// Prometheus registry involved).
func (rm *RuntimeMetrics) Disable() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (rm *RuntimeMetrics) Enable() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.enabled = true
}

// Reset zeroes the gauge metrics. Counters and histograms are cumulative by
// Prometheus design and are not reset.
func (rm *RuntimeMetrics) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.inflightNodes.Set(0)
	rm.queueDepth.Set(0)
}
