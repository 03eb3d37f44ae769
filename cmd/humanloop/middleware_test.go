package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/humanloop/config"
	"github.com/BaSui01/humanloop/internal/metrics"
	"github.com/BaSui01/humanloop/manager"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, strings.HasPrefix(seen, "req-"))
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "abc", seen)
}

func TestRecovery(t *testing.T) {
	h := Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil)) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth([]string{"secret"}, []string{"/healthz"}, zaptest.NewLogger(t))(okHandler())

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing key", "/api/v1/tasks", nil, http.StatusUnauthorized},
		{"wrong key", "/api/v1/tasks", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header key", "/api/v1/tasks", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer key", "/api/v1/tasks", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"skipped path", "/healthz", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimiter(ctx, 1, 2, zaptest.NewLogger(t))(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/healthz":                            "/healthz",
		"/api/v1/tasks":                       "/api/v1/tasks",
		"/api/v1/tasks/deploy-42":             "/api/v1/tasks/:id",
		"/api/v1/tasks/deploy-42/sync":        "/api/v1/tasks/:id/sync",
		"/other/123":                          "/other/:id",
		"/other/550e8400-e29b-41d4-a716-4466": "/other/:id",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector("test", reg, zaptest.NewLogger(t))
	h := MetricsMiddleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1", nil))

	n, err := testutil.GatherAndCount(reg, "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterProviders(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("none enabled", func(t *testing.T) {
		m := manager.New(manager.WithLogger(logger))
		err := registerProviders(m, &config.Config{}, logger)
		assert.Error(t, err)
	})

	t.Run("terminal and websocket", func(t *testing.T) {
		m := manager.New(manager.WithLogger(logger))
		cfg := &config.Config{
			Manager:   config.ManagerConfig{DefaultProvider: "ws"},
			Terminal:  config.TerminalConfig{Enabled: true},
			WebSocket: config.WebSocketConfig{Enabled: true, Name: "ws", URL: "ws://127.0.0.1:1/hl"},
		}
		require.NoError(t, registerProviders(m, cfg, logger))
		providers := m.ListProviders()
		assert.Len(t, providers, 2)
		assert.Contains(t, providers, "terminal")
		assert.Contains(t, providers, "ws")
		assert.Equal(t, "ws", m.DefaultProviderID())
		_ = m.Shutdown(context.Background())
	})

	t.Run("invalid email config", func(t *testing.T) {
		m := manager.New(manager.WithLogger(logger))
		cfg := &config.Config{Email: config.EmailConfig{Enabled: true}}
		assert.Error(t, registerProviders(m, cfg, logger))
	})
}
