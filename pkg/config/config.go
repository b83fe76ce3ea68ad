// Package config manages worker-launcher configuration
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jrepp/prism-data-layer/pkg/launcher"
	"github.com/jrepp/prism-data-layer/pkg/lifecycle"
	"github.com/jrepp/prism-data-layer/pkg/observability"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// WORKER_LAUNCHER_POOL_SANDBOXED_SLOTS
const EnvPrefix = "WORKER_LAUNCHER"

// Config holds the worker-launcher configuration
type Config struct {
	Pool     PoolConfig     `mapstructure:"pool"`
	Launcher LauncherConfig `mapstructure:"launcher"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Server   ServerConfig   `mapstructure:"server"`
	Events   EventsConfig   `mapstructure:"events"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PoolConfig holds slot pool capacities
type PoolConfig struct {
	SandboxedSlots  int `mapstructure:"sandboxed_slots"`
	PrivilegedSlots int `mapstructure:"privileged_slots"`
}

// LauncherConfig holds launcher behavior settings
type LauncherConfig struct {
	FreeDelay    time.Duration `mapstructure:"free_delay"`
	WarmUp       bool          `mapstructure:"warm_up"`
	LinkerParams string        `mapstructure:"linker_params"` // base64
}

// WorkerConfig holds settings for spawned worker processes
type WorkerConfig struct {
	Host        string            `mapstructure:"host"`
	Env         map[string]string `mapstructure:"env"`
	GracePeriod time.Duration     `mapstructure:"grace_period"`
}

// ServerConfig holds the ports served by the launcher
type ServerConfig struct {
	MetricsPort int `mapstructure:"metrics_port"`
	GRPCPort    int `mapstructure:"grpc_port"`
}

// EventsConfig holds lifecycle event publishing settings
type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

// LoggingConfig holds log handler settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default value. Keys must be known
// to viper for environment overrides to apply on Unmarshal.
func SetDefaults(v *viper.Viper) {
	defaults := launcher.DefaultConfig()

	v.SetDefault("pool.sandboxed_slots", defaults.SandboxedSlots)
	v.SetDefault("pool.privileged_slots", defaults.PrivilegedSlots)
	v.SetDefault("launcher.free_delay", defaults.FreeDelay)
	v.SetDefault("launcher.warm_up", true)
	v.SetDefault("launcher.linker_params", "")
	v.SetDefault("worker.host", "")
	v.SetDefault("worker.env", map[string]string{})
	v.SetDefault("worker.grace_period", 5*time.Second)
	v.SetDefault("server.metrics_port", 9092)
	v.SetDefault("server.grpc_port", 8982)
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject", lifecycle.DefaultSubject)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// New creates a viper instance with defaults and environment overrides.
// configFile may be empty, in which case worker-launcher.yaml is searched in
// the working directory and $HOME/.worker-launcher.
func New(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("worker-launcher")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.worker-launcher")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// Load reads the config file (if any), unmarshals and validates
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that the launcher does not check itself
func (c *Config) Validate() error {
	if _, err := c.LauncherConfig(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return launcher.ErrInvalidConfiguration("logging.format", c.Logging.Format, "format must be text or json")
	}
	if c.Server.MetricsPort < 0 || c.Server.GRPCPort < 0 {
		return launcher.ErrInvalidConfiguration("server", c.Server, "ports must not be negative")
	}
	return nil
}

// LauncherConfig converts to the launcher's configuration
func (c *Config) LauncherConfig() (launcher.Config, error) {
	linker, err := base64.StdEncoding.DecodeString(c.Launcher.LinkerParams)
	if err != nil {
		return launcher.Config{}, launcher.ErrInvalidConfiguration("launcher.linker_params", c.Launcher.LinkerParams, "linker params must be base64").
			WithCause(err)
	}
	if len(linker) == 0 {
		linker = nil
	}

	lc := launcher.Config{
		SandboxedSlots:  c.Pool.SandboxedSlots,
		PrivilegedSlots: c.Pool.PrivilegedSlots,
		FreeDelay:       c.Launcher.FreeDelay,
		LinkerParams:    linker,
	}
	if err := lc.Validate(); err != nil {
		return launcher.Config{}, err
	}
	return lc, nil
}

// NATSConfig returns the lifecycle publisher configuration, or false when
// event publishing is disabled
func (c *Config) NATSConfig() (lifecycle.NATSConfig, bool) {
	if c.Events.NATSURL == "" {
		return lifecycle.NATSConfig{}, false
	}
	return lifecycle.NATSConfig{URL: c.Events.NATSURL, Subject: c.Events.Subject}, true
}

// ObservabilityConfig returns the tracing and metrics endpoint configuration
func (c *Config) ObservabilityConfig(version string) *observability.Config {
	oc := observability.DefaultConfig("worker-launcher", version)
	oc.MetricsPort = c.Server.MetricsPort
	oc.EnableTracing = c.Tracing.Enabled
	oc.TraceExporter = c.Tracing.Exporter
	return oc
}
