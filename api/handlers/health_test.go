package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/testutil/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

// mockHealthCheck 模拟健康检查
type mockHealthCheck struct {
	name  string
	err   error
	delay time.Duration
}

func (m *mockHealthCheck) Name() string {
	return m.name
}

func (m *mockHealthCheck) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func TestHealthHandler_HandleHealthz(t *testing.T) {
	handler := NewHealthHandler("1.2.3", zap.NewNop())
	handler.RegisterCheck(&mockHealthCheck{name: "db", err: errors.New("down")})

	w := httptest.NewRecorder()
	handler.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// 存活探针不执行依赖检查
	assert.Equal(t, http.StatusOK, w.Code)
	status := decodeHealth(t, w)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.False(t, status.Timestamp.IsZero())
	assert.Empty(t, status.Checks)
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	tests := []struct {
		name           string
		checks         []HealthCheck
		expectedStatus int
		checkStatus    func(*testing.T, HealthStatus)
	}{
		{
			name:           "no checks",
			expectedStatus: http.StatusOK,
			checkStatus: func(t *testing.T, status HealthStatus) {
				assert.Equal(t, "healthy", status.Status)
			},
		},
		{
			name: "all checks pass",
			checks: []HealthCheck{
				&mockHealthCheck{name: "database"},
				&mockHealthCheck{name: "redis"},
			},
			expectedStatus: http.StatusOK,
			checkStatus: func(t *testing.T, status HealthStatus) {
				assert.Equal(t, "healthy", status.Status)
				assert.Len(t, status.Checks, 2)
				assert.Equal(t, "pass", status.Checks["database"].Status)
				assert.NotEmpty(t, status.Checks["redis"].Latency)
			},
		},
		{
			name: "one check fails",
			checks: []HealthCheck{
				&mockHealthCheck{name: "database"},
				&mockHealthCheck{name: "redis", err: errors.New("connection refused")},
			},
			expectedStatus: http.StatusServiceUnavailable,
			checkStatus: func(t *testing.T, status HealthStatus) {
				assert.Equal(t, "unhealthy", status.Status)
				assert.Equal(t, "pass", status.Checks["database"].Status)
				assert.Equal(t, "fail", status.Checks["redis"].Status)
				assert.Equal(t, "connection refused", status.Checks["redis"].Message)
			},
		},
		{
			name: "optional check fails",
			checks: []HealthCheck{
				&mockHealthCheck{name: "database"},
				Optional(&mockHealthCheck{name: "redis", err: errors.New("connection refused")}),
			},
			expectedStatus: http.StatusOK,
			checkStatus: func(t *testing.T, status HealthStatus) {
				assert.Equal(t, StatusDegraded, status.Status)
				assert.True(t, status.Checks["redis"].Optional)
				assert.Equal(t, "fail", status.Checks["redis"].Status)
				assert.False(t, status.Checks["database"].Optional)
			},
		},
		{
			name: "required failure outranks optional",
			checks: []HealthCheck{
				Optional(&mockHealthCheck{name: "redis", err: errors.New("connection refused")}),
				&mockHealthCheck{name: "database", err: errors.New("no such host")},
			},
			expectedStatus: http.StatusServiceUnavailable,
			checkStatus: func(t *testing.T, status HealthStatus) {
				assert.Equal(t, StatusUnhealthy, status.Status)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("dev", zap.NewNop())
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.checkStatus(t, decodeHealth(t, w))
		})
	}
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler("dev", zap.NewNop())
	for _, name := range []string{"a", "b", "c", "d"} {
		h.RegisterCheck(&mockHealthCheck{name: name, delay: 100 * time.Millisecond})
	}

	start := time.Now()
	status := h.Evaluate(context.Background())

	assert.Equal(t, "healthy", status.Status)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestHealthHandler_ConcurrentRequests(t *testing.T) {
	handler := NewHealthHandler("dev", zap.NewNop())
	for i := 0; i < 10; i++ {
		handler.RegisterCheck(&mockHealthCheck{name: string(rune('a' + i))})
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler("1.0.0", zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleVersion("2024-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "2024-01-01T00:00:00Z", data["build_time"])
	assert.Equal(t, "abc123", data["git_commit"])
}

// =============================================================================
// 🧪 内置检查
// =============================================================================

func TestPingCheck_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	check := NewPingCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
	assert.Equal(t, "redis", check.Name())
	assert.NoError(t, check.Check(context.Background()))

	mr.Close()
	assert.Error(t, check.Check(context.Background()))
}

type unhealthyProvider struct{}

func (unhealthyProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: false}, nil
}

func TestProviderHealthCheck(t *testing.T) {
	check := NewProviderHealthCheck(mocks.NewMockProvider())
	assert.Equal(t, "llm", check.Name())
	assert.NoError(t, check.Check(context.Background()))

	assert.EqualError(t, NewProviderHealthCheck(unhealthyProvider{}).Check(context.Background()),
		"provider reported unhealthy")
}
