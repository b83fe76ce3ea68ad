package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrepp/prism-data-layer/pkg/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := New("")
	v.SetConfigName("does-not-exist")
	v.AddConfigPath(t.TempDir())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Pool.SandboxedSlots)
	assert.Equal(t, 2, cfg.Pool.PrivilegedSlots)
	assert.Equal(t, time.Millisecond, cfg.Launcher.FreeDelay)
	assert.True(t, cfg.Launcher.WarmUp)
	assert.Equal(t, 9092, cfg.Server.MetricsPort)
	assert.Equal(t, 8982, cfg.Server.GRPCPort)
	assert.Equal(t, "workers.lifecycle", cfg.Events.Subject)
	assert.Equal(t, "info", cfg.Logging.Level)

	_, enabled := cfg.NATSConfig()
	assert.False(t, enabled)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker-launcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  sandboxed_slots: 3
  privileged_slots: 1
launcher:
  free_delay: 5ms
  warm_up: false
  linker_params: aGVsbG8=
worker:
  host: /usr/lib/worker
  env:
    FEATURE: "on"
events:
  nats_url: nats://127.0.0.1:4222
logging:
  format: json
`), 0o644))

	cfg, err := Load(New(path))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pool.SandboxedSlots)
	assert.Equal(t, 5*time.Millisecond, cfg.Launcher.FreeDelay)
	assert.False(t, cfg.Launcher.WarmUp)
	assert.Equal(t, "/usr/lib/worker", cfg.Worker.Host)
	assert.Equal(t, "on", cfg.Worker.Env["feature"], "viper lowercases map keys")

	lc, err := cfg.LauncherConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), lc.LinkerParams)
	assert.Equal(t, 1, lc.PrivilegedSlots)

	nc, enabled := cfg.NATSConfig()
	require.True(t, enabled)
	assert.Equal(t, "nats://127.0.0.1:4222", nc.URL)
	assert.Equal(t, "workers.lifecycle", nc.Subject)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WORKER_LAUNCHER_POOL_SANDBOXED_SLOTS", "9")
	t.Setenv("WORKER_LAUNCHER_LAUNCHER_FREE_DELAY", "10ms")

	v := New("")
	v.AddConfigPath(t.TempDir())
	v.SetConfigName("nothing-here")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pool.SandboxedSlots)
	assert.Equal(t, 10*time.Millisecond, cfg.Launcher.FreeDelay)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   launcher.ErrorCode
	}{
		{
			name:   "zero free delay",
			mutate: func(c *Config) { c.Launcher.FreeDelay = 0 },
			code:   launcher.ErrorCodeInvalidConfiguration,
		},
		{
			name:   "no sandboxed slots",
			mutate: func(c *Config) { c.Pool.SandboxedSlots = 0 },
			code:   launcher.ErrorCodeInvalidConfiguration,
		},
		{
			name:   "bad linker params",
			mutate: func(c *Config) { c.Launcher.LinkerParams = "%%%" },
			code:   launcher.ErrorCodeInvalidConfiguration,
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			code:   launcher.ErrorCodeInvalidConfiguration,
		},
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Pool:     PoolConfig{SandboxedSlots: 2, PrivilegedSlots: 1},
				Launcher: LauncherConfig{FreeDelay: time.Millisecond},
				Logging:  LoggingConfig{Level: "info", Format: "text"},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, launcher.IsErrorCode(err, tt.code), "got %v", err)
		})
	}
}

func TestObservabilityConfig(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{MetricsPort: 9100},
		Tracing: TracingConfig{Enabled: true, Exporter: "stdout"},
	}
	oc := cfg.ObservabilityConfig("1.2.3")
	assert.Equal(t, "worker-launcher", oc.ServiceName)
	assert.Equal(t, "1.2.3", oc.ServiceVersion)
	assert.Equal(t, 9100, oc.MetricsPort)
	assert.True(t, oc.EnableTracing)
}
