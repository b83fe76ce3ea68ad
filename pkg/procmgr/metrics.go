package procmgr

import (
	"time"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
)

// Termination reasons reported to WorkerTerminated
const (
	TerminationStopped    = "stopped"
	TerminationDied       = "died"
	TerminationBindFailed = "bind_failed"
	TerminationShutdown   = "shutdown"
)

// MetricsCollector defines the interface for collecting launcher metrics
type MetricsCollector interface {
	// SlotsInUse records the allocated slot count of a pool
	SlotsInUse(class isolation.Class, count int)

	// SpawnRequested records an incoming spawn request
	SpawnRequested(class isolation.Class, processType isolation.ProcessType)

	// SpawnQueued records a request that had to wait for a slot
	SpawnQueued(class isolation.Class)

	// QueueDepth records the current pending queue length
	QueueDepth(depth int)

	// SpareConsumed records whether a start was served by the warm spare
	SpareConsumed(hit bool)

	// BindDuration records how long a platform bind took
	BindDuration(class isolation.Class, duration time.Duration, err error)

	// WorkerConnected records the outcome of a setup
	WorkerConnected(class isolation.Class, success bool)

	// WorkerTerminated records a terminated connection
	WorkerTerminated(class isolation.Class, reason string)

	// RegisteredWorkers records the service registry size
	RegisteredWorkers(count int)

	// InvariantViolation records an internal bookkeeping bug
	InvariantViolation(kind string)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) SlotsInUse(class isolation.Class, count int) {}
func (n *noopMetricsCollector) SpawnRequested(class isolation.Class, processType isolation.ProcessType) {
}
func (n *noopMetricsCollector) SpawnQueued(class isolation.Class) {}
func (n *noopMetricsCollector) QueueDepth(depth int)              {}
func (n *noopMetricsCollector) SpareConsumed(hit bool)            {}
func (n *noopMetricsCollector) BindDuration(class isolation.Class, duration time.Duration, err error) {
}
func (n *noopMetricsCollector) WorkerConnected(class isolation.Class, success bool)   {}
func (n *noopMetricsCollector) WorkerTerminated(class isolation.Class, reason string) {}
func (n *noopMetricsCollector) RegisteredWorkers(count int)                           {}
func (n *noopMetricsCollector) InvariantViolation(kind string)                        {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
