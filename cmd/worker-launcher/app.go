package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jrepp/prism-data-layer/pkg/config"
	"github.com/jrepp/prism-data-layer/pkg/launcher"
	"github.com/jrepp/prism-data-layer/pkg/lifecycle"
	"github.com/jrepp/prism-data-layer/pkg/observability"
	"github.com/jrepp/prism-data-layer/pkg/platform"
	"github.com/jrepp/prism-data-layer/pkg/priority"
	"github.com/jrepp/prism-data-layer/pkg/procmgr"
)

// app wires the launcher to its platform, metrics, tracing and events
type app struct {
	logger    *slog.Logger
	launcher  *launcher.Launcher
	obs       *observability.Manager
	metrics   *procmgr.PrometheusMetricsCollector
	publisher lifecycle.Publisher
	priority  *priority.Tracker

	// live is set once the launcher exists; /health is served before that
	live atomic.Pointer[launcher.Launcher]
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, onStarted launcher.StartedHandler) (*app, error) {
	lc, err := cfg.LauncherConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:    logger,
		metrics:   procmgr.NewPrometheusMetricsCollector("worker_launcher"),
		publisher: lifecycle.NoopPublisher{},
		priority:  priority.NewTracker(logger),
	}

	if natsCfg, ok := cfg.NATSConfig(); ok {
		pub, err := lifecycle.NewNATSPublisher(natsCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect lifecycle publisher: %w", err)
		}
		a.publisher = pub
	}

	a.obs = observability.NewManager(cfg.ObservabilityConfig(Version), a.metrics.Registry(), a.health, logger)
	if err := a.obs.Initialize(ctx); err != nil {
		a.publisher.Close()
		return nil, err
	}

	binder := platform.NewExecBinder(
		platform.WithHostPath(cfg.Worker.Host),
		platform.WithEnv(cfg.Worker.Env),
		platform.WithGracePeriod(cfg.Worker.GracePeriod),
		platform.WithLogger(logger),
	)

	a.launcher, err = launcher.New(lc, binder,
		launcher.WithLogger(logger),
		launcher.WithMetricsCollector(a.metrics),
		launcher.WithTracer(a.obs.Tracer("worker-launcher")),
		launcher.WithPriorityManager(a.priority),
		launcher.WithPublisher(a.publisher),
		launcher.WithStartedHandler(onStarted),
	)
	if err != nil {
		a.obs.Shutdown(ctx)
		a.publisher.Close()
		return nil, err
	}
	a.live.Store(a.launcher)
	return a, nil
}

// health reports launcher state on /health
func (a *app) health() (bool, map[string]interface{}) {
	l := a.live.Load()
	if l == nil {
		return false, map[string]interface{}{"status": "starting"}
	}
	status := l.Health()
	return status.Healthy, map[string]interface{}{
		"pools":       status.Pools,
		"pending":     status.Pending,
		"connected":   status.Connected,
		"spare_ready": status.SpareReady,
		"foreground":  a.priority.ApplicationInForeground(),
	}
}

// warmUp keeps a spare bound in the background. Failure is not fatal.
func (a *app) warmUp(ctx context.Context) {
	if err := a.launcher.WarmUp(ctx); err != nil && !launcher.IsErrorCode(err, launcher.ErrorCodeLauncherClosed) {
		a.logger.Warn("warm up failed", "error", err)
	}
}

// startPlan submits every request of plan
func (a *app) startPlan(ctx context.Context, plan *Plan) error {
	var errs []error
	for _, req := range plan.Requests() {
		if err := a.launcher.Start(ctx, req); err != nil {
			errs = append(errs, fmt.Errorf("request %d: %w", req.Token, err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.launcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("launcher: %w", err))
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher: %w", err))
	}
	if err := a.obs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}
	return errors.Join(errs...)
}
