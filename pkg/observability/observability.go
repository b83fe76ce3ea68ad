// Package observability wires tracing and the metrics HTTP endpoint.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds observability configuration
type Config struct {
	// ServiceName is the name reported in traces
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// MetricsPort is the port for the Prometheus metrics endpoint.
	// Set to 0 to disable the metrics HTTP server.
	MetricsPort int

	// EnableTracing enables OpenTelemetry tracing
	EnableTracing bool

	// TraceExporter specifies the trace exporter ("stdout", "none")
	TraceExporter string

	// TraceOutput receives stdout exporter output; defaults to os.Stdout
	TraceOutput io.Writer
}

// HealthFunc reports readiness details for /health
type HealthFunc func() (healthy bool, details map[string]interface{})

// Manager manages observability components (tracing, metrics, health)
type Manager struct {
	config         *Config
	logger         *slog.Logger
	registry       *prometheus.Registry
	health         HealthFunc
	tracerProvider *sdktrace.TracerProvider
	metricsServer  *http.Server
	listener       net.Listener
	shutdownOnce   sync.Once
}

// NewManager creates a new observability manager. registry may be nil when
// no metrics are exposed.
func NewManager(config *Config, registry *prometheus.Registry, health HealthFunc, logger *slog.Logger) *Manager {
	if config == nil {
		config = DefaultConfig("worker-launcher", "0.0.0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:   config,
		logger:   logger.With("component", "observability"),
		registry: registry,
		health:   health,
	}
}

// Initialize sets up observability components
func (o *Manager) Initialize(ctx context.Context) error {
	o.logger.Info("initializing observability",
		"service_name", o.config.ServiceName,
		"service_version", o.config.ServiceVersion,
		"metrics_port", o.config.MetricsPort,
		"enable_tracing", o.config.EnableTracing)

	if o.config.EnableTracing {
		if err := o.initializeTracing(ctx); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		o.logger.Info("OpenTelemetry tracing initialized", "exporter", o.config.TraceExporter)
	}

	if o.config.MetricsPort > 0 {
		if err := o.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	return nil
}

// initializeTracing sets up OpenTelemetry tracing
func (o *Manager) initializeTracing(ctx context.Context) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(o.config.ServiceName),
			semconv.ServiceVersion(o.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}

	switch o.config.TraceExporter {
	case "none":
	case "stdout", "":
		out := o.config.TraceOutput
		if out == nil {
			out = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	default:
		return fmt.Errorf("unknown trace exporter %q", o.config.TraceExporter)
	}

	o.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(o.tracerProvider)
	return nil
}

// Tracer returns a tracer for the given name
func (o *Manager) Tracer(name string) trace.Tracer {
	if o.tracerProvider != nil {
		return o.tracerProvider.Tracer(name)
	}
	return otel.Tracer(name)
}

// Handler builds the HTTP mux serving /metrics, /health and /ready
func (o *Manager) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthy, details := true, map[string]interface{}{}
		if o.health != nil {
			healthy, details = o.health()
		}
		status := "healthy"
		code := http.StatusOK
		if !healthy {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		details["status"] = status

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(details)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	if o.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{Registry: o.registry}))
	}

	return mux
}

// startMetricsServer starts the HTTP server for Prometheus metrics
func (o *Manager) startMetricsServer() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", o.config.MetricsPort))
	if err != nil {
		return err
	}
	o.listener = listener

	o.metricsServer = &http.Server{
		Handler:           o.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		o.logger.Info("metrics server listening", "addr", listener.Addr().String())
		if err := o.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// MetricsAddr returns the bound metrics address, or "" when disabled
func (o *Manager) MetricsAddr() string {
	if o.listener == nil {
		return ""
	}
	return o.listener.Addr().String()
}

// Shutdown gracefully shuts down observability components
func (o *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	o.shutdownOnce.Do(func() {
		o.logger.Info("shutting down observability components")

		if o.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
				o.logger.Error("failed to shutdown metrics server", "error", err)
				shutdownErr = fmt.Errorf("metrics server shutdown: %w", err)
			}
		}

		if o.tracerProvider != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := o.tracerProvider.Shutdown(shutdownCtx); err != nil {
				o.logger.Error("failed to shutdown tracer provider", "error", err)
				if shutdownErr == nil {
					shutdownErr = fmt.Errorf("tracer provider shutdown: %w", err)
				}
			}
		}
	})

	return shutdownErr
}

// DefaultConfig creates a default observability configuration
func DefaultConfig(serviceName, serviceVersion string) *Config {
	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		MetricsPort:    0,        // Disabled by default
		EnableTracing:  false,    // Disabled by default
		TraceExporter:  "stdout", // Development mode
	}
}
