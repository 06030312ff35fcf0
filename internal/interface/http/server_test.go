package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/interface/http/handlers"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

func newTestServer(checks map[string]handlers.HealthCheckFunc, origins ...string) *Server {
	hc := handlers.NewHealthChecker("test")
	for name, fn := range checks {
		hc.AddCheck(name, fn)
	}
	cfg := DefaultConfig()
	cfg.AllowedOrigins = origins
	return NewServer(cfg, hc, logger.Nop())
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Live(t *testing.T) {
	s := newTestServer(nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"alive"`)
}

func TestServer_RequestIDIsPropagated(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")

	rec := serve(s, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyAllHealthy(t *testing.T) {
	ok := func(context.Context) error { return nil }
	s := newTestServer(map[string]handlers.HealthCheckFunc{"postgres": ok, "redis": ok})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Ready)
	assert.Len(t, status.Checks, 2)
	assert.True(t, status.Checks["postgres"].Healthy)
}

func TestServer_ReadyReportsFailures(t *testing.T) {
	s := newTestServer(map[string]handlers.HealthCheckFunc{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: redis", status.Message)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(nil, "https://admin.learnpath.example")
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("Origin", "https://admin.learnpath.example")

	rec := serve(s, req)

	assert.Equal(t, "https://admin.learnpath.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_UnknownRoute(t *testing.T) {
	s := newTestServer(nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/enrollments", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
