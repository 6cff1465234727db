package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/store"
	"github.com/BaSui01/agentrelay/tracing"
	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔍 追踪 Handler
// =============================================================================

// TraceReader 追踪与交接审计的查询面
type TraceReader interface {
	GetTrace(ctx context.Context, id string) (*tracing.Trace, error)
	ListTraces(ctx context.Context, ownerID string, limit int) ([]*tracing.Trace, error)
	ListHandoffs(ctx context.Context, traceID string) ([]store.HandoffRecord, error)
}

// TraceHandler 追踪查询
type TraceHandler struct {
	traces TraceReader
	logger *zap.Logger
}

// NewTraceHandler 创建追踪处理器
func NewTraceHandler(traces TraceReader, logger *zap.Logger) *TraceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceHandler{
		traces: traces,
		logger: logger.With(zap.String("handler", "trace")),
	}
}

// HandleGet 查询追踪树及其交接记录
// @Summary 查询追踪
// @Tags 追踪
// @Produce json
// @Param id path string true "Trace ID"
// @Success 200 {object} api.TraceResponse "追踪详情"
// @Failure 404 {object} Response "不存在"
// @Router /v1/traces/{id} [get]
func (h *TraceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tr, err := h.traces.GetTrace(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			WriteError(w, types.Errorf(types.ErrNotFound, "trace %s not found", id), h.logger)
			return
		}
		WriteFailure(w, err, h.logger)
		return
	}
	user, _ := types.UserID(r.Context())
	if !ownedBy(tr.OwnerID, user) {
		WriteError(w, types.Errorf(types.ErrNotFound, "trace %s not found", id), h.logger)
		return
	}

	handoffs, err := h.traces.ListHandoffs(r.Context(), id)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	if handoffs == nil {
		handoffs = []store.HandoffRecord{}
	}
	WriteSuccess(w, api.TraceResponse{Trace: tr, Handoffs: handoffs})
}

// HandleList 按所有者列出追踪，最新的在前。已认证请求只能看到自己的追踪。
// @Summary 追踪列表
// @Tags 追踪
// @Produce json
// @Param owner query string false "所有者 ID"
// @Param limit query int false "条数上限"
// @Success 200 {array} tracing.Trace "追踪列表"
// @Router /v1/traces [get]
func (h *TraceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if user, ok := types.UserID(r.Context()); ok {
		if owner != "" && owner != user {
			WriteSuccess(w, []*tracing.Trace{})
			return
		}
		owner = user
	}
	list, err := h.traces.ListTraces(r.Context(), owner, QueryLimit(r, store.DefaultListLimit))
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	if list == nil {
		list = []*tracing.Trace{}
	}
	WriteSuccess(w, list)
}
