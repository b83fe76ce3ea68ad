package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_MetricsAndHealth(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_events_total", Help: "Test counter"})
	registry.MustRegister(counter)
	counter.Inc()

	var healthy atomic.Bool
	healthy.Store(true)
	m := NewManager(DefaultConfig("test", "0.1.0"), registry, func() (bool, map[string]interface{}) {
		return healthy.Load(), map[string]interface{}{"pending": 2}
	}, nil)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "test_events_total 1")

	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, float64(2), payload["pending"])

	healthy.Store(false)
	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestManager_Tracing(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig("test", "0.1.0")
	cfg.EnableTracing = true
	cfg.TraceOutput = &out

	m := NewManager(cfg, nil, nil, nil)
	require.NoError(t, m.Initialize(context.Background()))

	_, span := m.Tracer("test").Start(context.Background(), "unit-span")
	span.End()

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, strings.Contains(out.String(), "unit-span"), "span should be exported on shutdown")
}

func TestManager_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig("test", "0.1.0")
	cfg.EnableTracing = true
	cfg.TraceExporter = "carrier-pigeon"

	assert.Error(t, NewManager(cfg, nil, nil, nil).Initialize(context.Background()))
}

func TestManager_MetricsServer(t *testing.T) {
	cfg := DefaultConfig("test", "0.1.0")
	cfg.MetricsPort = 0
	m := NewManager(cfg, prometheus.NewRegistry(), nil, nil)
	require.NoError(t, m.Initialize(context.Background()))
	assert.Empty(t, m.MetricsAddr(), "port 0 disables the server")
	assert.NoError(t, m.Shutdown(context.Background()))
}
