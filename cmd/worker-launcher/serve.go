package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrepp/prism-data-layer/pkg/procmgr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the launcher as a long-lived service",
	Long: `Run the launcher with its metrics, health and gRPC health endpoints.

A warm spare sandboxed worker is kept bound when launcher.warm_up is set.
An optional plan file is started once the service is up.

SIGUSR1 and SIGUSR2 tell the launcher the application went to the
background or came back to the foreground.

Example:
  worker-launcher serve
  worker-launcher serve --worker-host /usr/lib/worker --plan workers.yaml
  worker-launcher serve --nats-url nats://localhost:4222 --metrics-port 9092
`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("grpc-port", 8982, "gRPC health port (0 disables)")
	serveCmd.Flags().Int("metrics-port", 9092, "Prometheus metrics and health HTTP port (0 disables)")
	serveCmd.Flags().Int("sandboxed-slots", 6, "Sandboxed pool capacity")
	serveCmd.Flags().Int("privileged-slots", 2, "Privileged pool capacity")
	serveCmd.Flags().String("worker-host", "", "Worker host executable (default: command line argv[0])")
	serveCmd.Flags().String("nats-url", "", "Publish lifecycle events to this NATS server")
	serveCmd.Flags().Bool("warm-up", true, "Keep a warm spare sandboxed worker")
	serveCmd.Flags().Bool("tracing", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().String("plan", "", "Plan file of workers to start")

	bindFlag(serveCmd, "server.grpc_port", "grpc-port")
	bindFlag(serveCmd, "server.metrics_port", "metrics-port")
	bindFlag(serveCmd, "pool.sandboxed_slots", "sandboxed-slots")
	bindFlag(serveCmd, "pool.privileged_slots", "privileged-slots")
	bindFlag(serveCmd, "worker.host", "worker-host")
	bindFlag(serveCmd, "events.nats_url", "nats-url")
	bindFlag(serveCmd, "launcher.warm_up", "warm-up")
	bindFlag(serveCmd, "tracing.enabled", "tracing")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	var plan *Plan
	if path, _ := cmd.Flags().GetString("plan"); path != "" {
		if plan, err = LoadPlan(path); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var a *app
	onStarted := func(token procmgr.ClientToken, pid int) {
		if pid == procmgr.NullPID {
			logger.Warn("worker failed to start", "token", token)
			return
		}
		logger.Info("worker started", "token", token, "pid", pid)
		// Queued requests take freed slots before a new spare does
		if cfg.Launcher.WarmUp && a.launcher.PendingCount() == 0 {
			go a.warmUp(ctx)
		}
	}

	a, err = newApp(ctx, cfg, logger, onStarted)
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			a.shutdown(context.Background())
			return fmt.Errorf("failed to listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
		}
		g.Go(func() error {
			logger.Info("gRPC health server listening", "address", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		watchForeground(gctx, a)
		return nil
	})

	if cfg.Launcher.WarmUp {
		g.Go(func() error {
			a.warmUp(gctx)
			return nil
		})
	}

	if plan != nil {
		if err := a.startPlan(gctx, plan); err != nil {
			logger.Error("plan partially rejected", "error", err)
		}
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logger.Info("worker launcher started",
		"sandboxed_slots", cfg.Pool.SandboxedSlots,
		"privileged_slots", cfg.Pool.PrivilegedSlots,
		"metrics_addr", a.obs.MetricsAddr())

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		healthServer.Shutdown()
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("worker launcher stopped")
	return nil
}

// watchForeground maps SIGUSR1 and SIGUSR2 to background and foreground
// transitions of the application
func watchForeground(ctx context.Context, a *app) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				a.launcher.OnSentToBackground()
			} else {
				a.launcher.OnBroughtToForeground()
			}
			a.logger.Info("application visibility changed", "foreground", a.launcher.IsApplicationInForeground())
		}
	}
}
