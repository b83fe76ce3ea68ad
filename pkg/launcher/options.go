package launcher

import (
	"log/slog"

	"github.com/jrepp/prism-data-layer/pkg/lifecycle"
	"github.com/jrepp/prism-data-layer/pkg/procmgr"
	"go.opentelemetry.io/otel/trace"
)

// StartedHandler receives the outcome of a Start: the worker pid, or
// procmgr.NullPID when the worker could not be started. It is called once
// per request with a non-zero token, from a launcher goroutine.
type StartedHandler func(token procmgr.ClientToken, pid int)

// PriorityManager adjusts the scheduling priority of connected workers
type PriorityManager interface {
	RegisterWorker(pid int, conn *procmgr.WorkerConnection)
	SetPriority(pid int, high bool)
	DeterminedVisibility(pid int)
	Release(pid int)
	OnSentToBackground()
	OnBroughtToForeground()
}

// Option configures a Launcher
type Option func(*Launcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(metrics procmgr.MetricsCollector) Option {
	return func(l *Launcher) {
		l.metrics = metrics
	}
}

// WithTracer sets the tracer used for start spans
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Launcher) {
		l.tracer = tracer
	}
}

// WithPriorityManager sets the priority manager
func WithPriorityManager(pm PriorityManager) Option {
	return func(l *Launcher) {
		l.priority = pm
	}
}

// WithPublisher sets the lifecycle event publisher
func WithPublisher(publisher lifecycle.Publisher) Option {
	return func(l *Launcher) {
		l.publisher = publisher
	}
}

// WithStartedHandler sets the completion handler
func WithStartedHandler(handler StartedHandler) Option {
	return func(l *Launcher) {
		l.onStarted = handler
	}
}
