package procmgr

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPrometheusMetricsCollector_Slots tests slot and queue gauges
func TestPrometheusMetricsCollector_Slots(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.SlotsInUse(isolation.Sandboxed, 3)
	pmc.SlotsInUse(isolation.Privileged, 1)
	pmc.SlotsInUse(isolation.Sandboxed, 2)
	pmc.QueueDepth(4)

	expected := `
		# HELP test_slots_in_use Number of allocated worker slots per isolation class
		# TYPE test_slots_in_use gauge
		test_slots_in_use{class="privileged"} 1
		test_slots_in_use{class="sandboxed"} 2
	`
	err := testutil.GatherAndCompare(pmc.registry, strings.NewReader(expected), "test_slots_in_use")
	assert.NoError(t, err)

	expected = `
		# HELP test_pending_spawn_queue_depth Current depth of the pending spawn queue
		# TYPE test_pending_spawn_queue_depth gauge
		test_pending_spawn_queue_depth 4
	`
	err = testutil.GatherAndCompare(pmc.registry, strings.NewReader(expected), "test_pending_spawn_queue_depth")
	assert.NoError(t, err)
}

// TestPrometheusMetricsCollector_Lifecycle tests spawn and termination counters
func TestPrometheusMetricsCollector_Lifecycle(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.SpawnRequested(isolation.Sandboxed, isolation.ProcessTypeRenderer)
	pmc.SpawnRequested(isolation.Sandboxed, isolation.ProcessTypeRenderer)
	pmc.SpawnRequested(isolation.Privileged, isolation.ProcessTypeGPU)
	pmc.WorkerTerminated(isolation.Sandboxed, TerminationDied)
	pmc.WorkerTerminated(isolation.Sandboxed, TerminationStopped)
	pmc.InvariantViolation("slot_mismatch")

	expected := `
		# HELP test_spawn_requests_total Total number of spawn requests
		# TYPE test_spawn_requests_total counter
		test_spawn_requests_total{class="privileged",process_type="gpu"} 1
		test_spawn_requests_total{class="sandboxed",process_type="renderer"} 2
	`
	err := testutil.GatherAndCompare(pmc.registry, strings.NewReader(expected), "test_spawn_requests_total")
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(pmc.registry, "test_worker_terminations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, float64(1), testutil.ToFloat64(pmc.violations.WithLabelValues("slot_mismatch")))
}

// TestPrometheusMetricsCollector_BindDuration tests the bind histogram
func TestPrometheusMetricsCollector_BindDuration(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.BindDuration(isolation.Sandboxed, 2*time.Millisecond, nil)
	pmc.BindDuration(isolation.Sandboxed, 20*time.Millisecond, errors.New("no host"))
	pmc.SpareConsumed(true)
	pmc.SpareConsumed(false)
	pmc.WorkerConnected(isolation.Sandboxed, true)

	metricFamilies, err := pmc.registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "test_bind_duration_seconds" {
			found = true
			assert.Len(t, mf.GetMetric(), 2, "One series per status")
		}
	}
	assert.True(t, found, "Should have bind duration metric")
}

// TestPrometheusMetricsCollector_DefaultNamespace tests the default namespace
func TestPrometheusMetricsCollector_DefaultNamespace(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("")
	pmc.RegisteredWorkers(2)

	assert.IsType(t, &prometheus.Registry{}, pmc.Registry())

	count, err := testutil.GatherAndCount(pmc.Registry(), "worker_launcher_registered_workers")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
