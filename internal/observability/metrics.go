// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the governance engine.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	decisionDuration   prometheus.Histogram
	triggerRoutesTotal *prometheus.CounterVec
	cacheEventsTotal   *prometheus.CounterVec
	confidenceUpdates  *prometheus.CounterVec
	tierTransitions    *prometheus.CounterVec
	packageChecksTotal *prometheus.CounterVec
	sandboxRunsTotal   *prometheus.CounterVec
	sandboxDuration    prometheus.Histogram
	sandboxInFlight    prometheus.Gauge
	deferredEnqueued   *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// =====================================================================
		// GOVERNANCE
		// =====================================================================
		decisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_governance_decisions_total",
				Help: "Total governance decisions",
			},
			[]string{"kind", "allowed", "tier"}, // kind: action, capability, package
		),
		decisionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustgate_governance_decision_duration_seconds",
				Help:    "Governance decision latency in seconds",
				Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		),
		packageChecksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_package_checks_total",
				Help: "Total package permission checks",
			},
			[]string{"allowed"},
		),

		// =====================================================================
		// ROUTING
		// =====================================================================
		triggerRoutesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_trigger_routes_total",
				Help: "Total intercepted triggers by source and route",
			},
			[]string{"source", "route", "execute"},
		),
		deferredEnqueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_deferred_enqueued_total",
				Help: "Total deferred executions enqueued",
			},
			[]string{"status"}, // status: success, error
		),

		// =====================================================================
		// CACHE
		// =====================================================================
		cacheEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_cache_events_total",
				Help: "Decision cache events",
			},
			[]string{"cache", "event"}, // event: hit, miss, evict, expire
		),

		// =====================================================================
		// CONFIDENCE
		// =====================================================================
		confidenceUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_confidence_updates_total",
				Help: "Total confidence score updates",
			},
			[]string{"direction", "impact"},
		),
		tierTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_tier_transitions_total",
				Help: "Total maturity tier transitions",
			},
			[]string{"from", "to"},
		),

		// =====================================================================
		// SANDBOX
		// =====================================================================
		sandboxRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustgate_sandbox_executions_total",
				Help: "Total sandbox executions by result kind",
			},
			[]string{"result"}, // result: ok, execution_error, runtime_error, sandbox_error
		),
		sandboxDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustgate_sandbox_duration_seconds",
				Help:    "Sandbox execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		sandboxInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "trustgate_sandbox_in_flight",
				Help: "Sandbox executions currently running",
			},
		),
	}
}

// RecordDecision records a governance decision and its latency.
func (m *Metrics) RecordDecision(kind string, allowed bool, tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(kind, strconv.FormatBool(allowed), tier).Inc()
	m.decisionDuration.Observe(d.Seconds())
}

// RecordPackageCheck records a package permission check.
func (m *Metrics) RecordPackageCheck(allowed bool) {
	if m == nil {
		return
	}
	m.packageChecksTotal.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

// RecordTriggerRoute records an interceptor routing outcome.
func (m *Metrics) RecordTriggerRoute(source, route string, execute bool) {
	if m == nil {
		return
	}
	m.triggerRoutesTotal.WithLabelValues(source, route, strconv.FormatBool(execute)).Inc()
}

// RecordDeferred records an enqueue attempt.
func (m *Metrics) RecordDeferred(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.deferredEnqueued.WithLabelValues(status).Inc()
}

// RecordCacheEvent records a cache hit, miss, eviction or expiry.
func (m *Metrics) RecordCacheEvent(cache, event string) {
	if m == nil {
		return
	}
	m.cacheEventsTotal.WithLabelValues(cache, event).Inc()
}

// RecordConfidenceUpdate records a score update and any tier transition.
func (m *Metrics) RecordConfidenceUpdate(positive, highImpact bool, fromTier, toTier string) {
	if m == nil {
		return
	}
	direction, impact := "negative", "low"
	if positive {
		direction = "positive"
	}
	if highImpact {
		impact = "high"
	}
	m.confidenceUpdates.WithLabelValues(direction, impact).Inc()
	if fromTier != toTier {
		m.tierTransitions.WithLabelValues(fromTier, toTier).Inc()
	}
}

// SandboxStarted marks a sandbox run as in flight and returns a func that
// records its completion.
func (m *Metrics) SandboxStarted() func(result string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.sandboxInFlight.Inc()
	return func(result string) {
		m.sandboxInFlight.Dec()
		m.sandboxRunsTotal.WithLabelValues(result).Inc()
		m.sandboxDuration.Observe(time.Since(start).Seconds())
	}
}
