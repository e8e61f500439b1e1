package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MDrooker/rna-stat-manager/internal/health"
	"github.com/MDrooker/rna-stat-manager/internal/metrics"
)

func newTestServer(t *testing.T, enabled bool, storeErr error) *Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordOperation("incr", time.Millisecond, "")

	hc := health.NewHealthChecker(time.Second, zap.NewNop())
	hc.Register("store", health.PingFunc(func(context.Context) error { return storeErr }))

	return NewServer(Config{Listen: "127.0.0.1:0", MetricsEnabled: enabled, MetricsPath: "/metrics"}, hc, reg, zap.NewNop())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Routes(t *testing.T) {
	s := newTestServer(t, true, nil)

	rec := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = get(t, s.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "statmanager_operations_total")

	rec = get(t, s.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ReadinessReflectsStore(t *testing.T) {
	s := newTestServer(t, true, errors.New("down"))

	rec := get(t, s.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsDisabled(t *testing.T) {
	s := newTestServer(t, false, nil)

	rec := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_KeepsCallerRequestID(t *testing.T) {
	s := newTestServer(t, true, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s := newTestServer(t, true, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "alive")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-done)
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := get(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
