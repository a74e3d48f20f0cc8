// Package metrics provides Prometheus metrics collection
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Tool surface
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	CallsInFlight    prometheus.Gauge

	// Classification outcomes
	DecisionsTotal *prometheus.CounterVec

	// Lifecycle and loop detection
	LifecycleTotal *prometheus.CounterVec
	LoopDetections *prometheus.CounterVec

	// Persistence and locking
	SavesTotal       *prometheus.CounterVec
	LockWaitDuration *prometheus.HistogramVec
	LockTimeouts     prometheus.Counter

	// Dialectic and knowledge graph
	DialecticTransitions *prometheus.CounterVec
	KnowledgeStores      *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	AgentsTracked *prometheus.GaugeVec
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_tool_calls_total",
				Help: "Total number of dispatched tool calls",
			},
			[]string{"tool", "outcome"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governance_tool_call_duration_seconds",
				Help:    "Tool call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		CallsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governance_tool_calls_in_flight",
				Help: "Current number of tool calls being processed",
			},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_decisions_total",
				Help: "Total number of update classifications",
			},
			[]string{"action", "verdict"},
		),

		LifecycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_lifecycle_transitions_total",
				Help: "Total number of agent lifecycle transitions",
			},
			[]string{"from", "to"},
		),
		LoopDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_loop_detections_total",
				Help: "Total number of loop-detector trips",
			},
			[]string{"pattern"},
		),

		SavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_saves_total",
				Help: "Total number of persisted writes",
			},
			[]string{"target", "mode"},
		),
		LockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governance_lock_wait_seconds",
				Help:    "Time spent waiting for advisory locks",
				Buckets: []float64{.0001, .001, .01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"lock"},
		),
		LockTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "governance_lock_timeouts_total",
				Help: "Total number of lock acquisition timeouts",
			},
		),

		DialecticTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_dialectic_transitions_total",
				Help: "Total number of dialectic session transitions",
			},
			[]string{"to"},
		),
		KnowledgeStores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_knowledge_stores_total",
				Help: "Total number of knowledge-graph store attempts",
			},
			[]string{"outcome"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governance_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		AgentsTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governance_agents",
				Help: "Number of tracked agents by status",
			},
			[]string{"status"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governance_service_info",
				Help: "Service information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.ToolCallsTotal,
			m.ToolCallDuration,
			m.CallsInFlight,
			m.DecisionsTotal,
			m.LifecycleTotal,
			m.LoopDetections,
			m.SavesTotal,
			m.LockWaitDuration,
			m.LockTimeouts,
			m.DialecticTransitions,
			m.KnowledgeStores,
			m.ServiceUptime,
			m.AgentsTracked,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)

	return m
}

// RecordToolCall records one dispatched tool call
func (m *Metrics) RecordToolCall(tool, outcome string, duration time.Duration) {
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordDecision records a classification outcome
func (m *Metrics) RecordDecision(action, verdict string) {
	m.DecisionsTotal.WithLabelValues(action, verdict).Inc()
}

// RecordLifecycle records a lifecycle transition
func (m *Metrics) RecordLifecycle(from, to string) {
	m.LifecycleTotal.WithLabelValues(from, to).Inc()
}

// RecordLoopDetection records a loop-detector trip
func (m *Metrics) RecordLoopDetection(pattern string) {
	m.LoopDetections.WithLabelValues(pattern).Inc()
}

// RecordSave records a persisted write
func (m *Metrics) RecordSave(target string, forced bool) {
	mode := "debounced"
	if forced {
		mode = "forced"
	}
	m.SavesTotal.WithLabelValues(target, mode).Inc()
}

// RecordLockWait records time spent acquiring a lock
func (m *Metrics) RecordLockWait(lock string, waited time.Duration) {
	m.LockWaitDuration.WithLabelValues(lock).Observe(waited.Seconds())
}

// RecordDialecticTransition records a session state change
func (m *Metrics) RecordDialecticTransition(to string) {
	m.DialecticTransitions.WithLabelValues(to).Inc()
}

// RecordKnowledgeStore records a store attempt outcome
func (m *Metrics) RecordKnowledgeStore(outcome string) {
	m.KnowledgeStores.WithLabelValues(outcome).Inc()
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// SetAgents sets the tracked-agent gauge for one status
func (m *Metrics) SetAgents(status string, count int) {
	m.AgentsTracked.WithLabelValues(status).Set(float64(count))
}

// IncrementInFlight increments the in-flight calls counter
func (m *Metrics) IncrementInFlight() {
	m.CallsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight calls counter
func (m *Metrics) DecrementInFlight() {
	m.CallsInFlight.Dec()
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("governance")
	}
	return globalMetrics
}
