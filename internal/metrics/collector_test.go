package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/store"
	"github.com/BaSui01/agentrelay/testutil"
	"github.com/BaSui01/agentrelay/testutil/mocks"
	"github.com/BaSui01/agentrelay/workflow"
	"github.com/DATA-DOG/go-sqlmock"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ agent.Metrics      = (*Collector)(nil)
	_ workflow.Metrics   = (*Collector)(nil)
	_ store.CacheMetrics = (*Collector)(nil)
	_ llm.Provider       = (*InstrumentedProvider)(nil)
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("agentrelay", zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector_IndependentRegistries(t *testing.T) {
	// 每个 Collector 有独立 Registry，同名指标不会冲突
	a := newTestCollector(t)
	b := newTestCollector(t)

	a.RecordHop("triage")
	assert.Equal(t, 1.0, promtest.ToFloat64(a.agentHopsTotal.WithLabelValues("triage")))
	assert.Equal(t, 0.0, promtest.ToFloat64(b.agentHopsTotal.WithLabelValues("triage")))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/tasks", 200, 100*time.Millisecond, 2048)
	c.RecordHTTPRequest("GET", "/api/v1/tasks", 204, 50*time.Millisecond, 0)
	c.RecordHTTPRequest("GET", "/api/v1/tasks", 404, 5*time.Millisecond, 64)

	assert.Equal(t, 2.0, promtest.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/tasks", "2xx")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/tasks", "4xx")))
	assert.Equal(t, 1, promtest.CollectAndCount(c.httpRequestDuration))
}

func TestCollector_AgentRuns(t *testing.T) {
	c := newTestCollector(t)

	c.RecordRun("triage", true, time.Second)
	c.RecordRun("triage", false, 2*time.Second)
	c.RecordHop("triage")
	c.RecordHop("billing")
	c.RecordHandoff("triage", "billing")

	assert.Equal(t, 1.0, promtest.ToFloat64(c.agentRunsTotal.WithLabelValues("triage", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.agentRunsTotal.WithLabelValues("triage", "failure")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.handoffsTotal.WithLabelValues("triage", "billing")))
	assert.Equal(t, 2, promtest.CollectAndCount(c.agentHopsTotal))
}

func TestCollector_Workflow(t *testing.T) {
	c := newTestCollector(t)

	c.RecordNode("agent", false, 200*time.Millisecond)
	c.RecordNode("agent", true, 10*time.Millisecond)
	c.RecordNode("input", false, 0)
	c.RecordExecution("completed", 3*time.Second)

	assert.Equal(t, 1.0, promtest.ToFloat64(c.workflowNodesTotal.WithLabelValues("agent", "failure")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.workflowNodesTotal.WithLabelValues("input", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.workflowRunsTotal.WithLabelValues("completed")))

	done := c.ExecutionStarted()
	assert.Equal(t, 1.0, promtest.ToFloat64(c.workflowRunsInProgress))
	done()
	assert.Equal(t, 0.0, promtest.ToFloat64(c.workflowRunsInProgress))
}

func TestCollector_Cache(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheHit("task_status")
	c.RecordCacheHit("task_status")
	c.RecordCacheMiss("task_status")

	assert.Equal(t, 2.0, promtest.ToFloat64(c.cacheHits.WithLabelValues("task_status")))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.cacheMisses.WithLabelValues("task_status")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordHTTPRequest("POST", "/api/v1/chat", 200, 10*time.Millisecond, 128)
			c.RecordHop("triage")
			c.RecordNode("agent", false, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, promtest.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/chat", "2xx")))
	assert.Equal(t, 10.0, promtest.ToFloat64(c.agentHopsTotal.WithLabelValues("triage")))
}

func TestCollector_Handler(t *testing.T) {
	c := newTestCollector(t)
	c.RecordHandoff("triage", "research")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `agentrelay_agent_handoffs_total{from="triage",to="research"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestCollector_RegisterDB(t *testing.T) {
	c := newTestCollector(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, c.RegisterDB("primary", db))
	assert.Error(t, c.RegisterDB("primary", db), "duplicate registration must fail")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `go_sql_max_open_connections{db_name="primary"}`)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {201, "2xx"}, {302, "3xx"}, {400, "4xx"}, {429, "4xx"}, {500, "5xx"}, {503, "5xx"}, {0, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code), tt.code)
	}
}

// =============================================================================
// 🤖 Provider 包装测试
// =============================================================================

func TestInstrumentProvider_NilCollector(t *testing.T) {
	p := mocks.NewMockProvider()
	assert.Same(t, llm.Provider(p), InstrumentProvider(p, nil))
}

func TestInstrumentedProvider_Completion(t *testing.T) {
	c := newTestCollector(t)
	mock := mocks.NewMockProvider().WithResponse("hello")
	p := InstrumentProvider(mock, c)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	msg, ok := resp.FirstMessage()
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, 1.0, promtest.ToFloat64(c.llmRequestsTotal.WithLabelValues("mock", "gpt-4o-mini", "success")))

	assert.Same(t, llm.Provider(mock), p.(*InstrumentedProvider).Unwrap())
}

func TestInstrumentedProvider_CompletionError(t *testing.T) {
	c := newTestCollector(t)
	p := InstrumentProvider(mocks.NewMockProvider().WithError(errors.New("upstream down")), c)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 1.0, promtest.ToFloat64(c.llmRequestsTotal.WithLabelValues("mock", "m", "error")))
}

func TestInstrumentedProvider_Stream(t *testing.T) {
	c := newTestCollector(t)
	p := InstrumentProvider(mocks.NewMockProvider().WithResponse("streamed text").WithChunkSize(4), c)

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)
	content, err := testutil.CollectStreamContent(ch)
	require.NoError(t, err)
	assert.Equal(t, "streamed text", content)

	// 记账发生在转发 goroutine 关闭通道之前
	assert.Equal(t, 1.0, promtest.ToFloat64(c.llmRequestsTotal.WithLabelValues("mock", "m", "success")))
}
