package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/store"
	"github.com/BaSui01/agentrelay/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// runTraced 通过真实的 Runner 产生一条带交接的追踪
func runTraced(t *testing.T, ms *store.MemoryStore, owner string) string {
	t.Helper()
	logger := zaptest.NewLogger(t)
	runner := agent.NewRunner(supportScript(),
		agent.WithLogger(logger),
		agent.WithTracer(tracing.NewTracer(tracing.TracerConfig{Exporter: ms}, logger)),
		agent.WithHandoffSink(ms))

	root, err := supportDesk(t).Get(context.Background(), "triage")
	require.NoError(t, err)
	res := runner.Run(context.Background(), root, "charged twice", agent.RunConfig{OwnerID: owner, WorkflowName: "support"})
	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.TraceID)
	return res.TraceID
}

func TestTraceHandler_Get(t *testing.T) {
	ms := store.NewMemoryStore()
	traceID := runTraced(t, ms, "u1")
	h := NewTraceHandler(ms, zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	h.HandleGet(w, asUser(withID(httptest.NewRequest(http.MethodGet, "/v1/traces/"+traceID, nil), traceID), "u1"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp api.TraceResponse
	decodeData(t, w, &resp)
	require.NotNil(t, resp.Trace)
	assert.Equal(t, traceID, resp.Trace.ID)
	assert.Equal(t, "support", resp.Trace.WorkflowName)
	assert.NotEmpty(t, resp.Trace.Spans)

	require.Len(t, resp.Handoffs, 1)
	assert.Equal(t, "triage", resp.Handoffs[0].FromAgent)
	assert.Equal(t, "billing", resp.Handoffs[0].ToAgent)
	assert.Equal(t, "billing question", resp.Handoffs[0].Reason)
}

func TestTraceHandler_GetNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	traceID := runTraced(t, ms, "u1")
	h := NewTraceHandler(ms, zaptest.NewLogger(t))

	tests := []struct {
		name string
		id   string
		user string
	}{
		{"missing", "trace_nope", "u1"},
		{"other owner", traceID, "u2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleGet(w, asUser(withID(httptest.NewRequest(http.MethodGet, "/v1/traces/"+tt.id, nil), tt.id), tt.user))
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestTraceHandler_List(t *testing.T) {
	ms := store.NewMemoryStore()
	runTraced(t, ms, "u1")
	runTraced(t, ms, "u1")
	runTraced(t, ms, "u2")
	h := NewTraceHandler(ms, zaptest.NewLogger(t))

	list := func(t *testing.T, r *http.Request) []*tracing.Trace {
		t.Helper()
		w := httptest.NewRecorder()
		h.HandleList(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		var out []*tracing.Trace
		decodeData(t, w, &out)
		return out
	}

	t.Run("owner query", func(t *testing.T) {
		out := list(t, httptest.NewRequest(http.MethodGet, "/v1/traces?owner=u1", nil))
		assert.Len(t, out, 2)
		for _, tr := range out {
			assert.Equal(t, "u1", tr.OwnerID)
		}
	})

	t.Run("limit", func(t *testing.T) {
		assert.Len(t, list(t, httptest.NewRequest(http.MethodGet, "/v1/traces?limit=1", nil)), 1)
	})

	t.Run("authenticated caller sees only own traces", func(t *testing.T) {
		out := list(t, asUser(httptest.NewRequest(http.MethodGet, "/v1/traces", nil), "u2"))
		require.Len(t, out, 1)
		assert.Equal(t, "u2", out[0].OwnerID)
	})

	t.Run("asking for someone else's traces yields nothing", func(t *testing.T) {
		assert.Empty(t, list(t, asUser(httptest.NewRequest(http.MethodGet, "/v1/traces?owner=u1", nil), "u2")))
	})
}
