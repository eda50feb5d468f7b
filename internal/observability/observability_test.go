package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordDecision(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordDecision("action", false, "STUDENT", time.Millisecond)
	m.RecordDecision("action", false, "STUDENT", time.Millisecond)
	m.RecordDecision("action", true, "AUTONOMOUS", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("action", "false", "STUDENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("action", "true", "AUTONOMOUS")))
}

func TestRecordConfidenceUpdateCountsTransitions(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordConfidenceUpdate(true, true, "INTERN", "INTERN")
	m.RecordConfidenceUpdate(true, true, "INTERN", "SUPERVISED")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.confidenceUpdates.WithLabelValues("positive", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tierTransitions.WithLabelValues("INTERN", "SUPERVISED")))
}

func TestSandboxStarted(t *testing.T) {
	m := newTestMetrics(t)
	done := m.SandboxStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sandboxInFlight))
	done("execution_error")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sandboxInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sandboxRunsTotal.WithLabelValues("execution_error")))
}

func TestRecordDeferredAndRoutes(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordDeferred(nil)
	m.RecordDeferred(errors.New("redis down"))
	m.RecordTriggerRoute("DATA_SYNC", "PROPOSAL", false)
	m.RecordCacheEvent("agent_tier", "hit")
	m.RecordPackageCheck(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.deferredEnqueued.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.triggerRoutesTotal.WithLabelValues("DATA_SYNC", "PROPOSAL", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheEventsTotal.WithLabelValues("agent_tier", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.packageChecksTotal.WithLabelValues("true")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision("action", true, "STUDENT", 0)
	m.RecordConfidenceUpdate(false, false, "A", "B")
	m.SandboxStarted()("ok")
}

func TestInitTracerWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "trustgate", "test", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
