package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// FailureMessage 是运行失败时返回给调用方的固定文案，内部错误只进日志
const FailureMessage = "Something went wrong, please try again."

// =============================================================================
// 💬 直接对话 Handler
// =============================================================================

// ChatRunner 执行一次委派运行，agent.Runner 实现它
type ChatRunner interface {
	Run(ctx context.Context, root *agent.Agent, message string, cfg agent.RunConfig) *agent.RunResult
	RunStreamed(ctx context.Context, root *agent.Agent, message string, cb agent.StreamCallbacks, cfg agent.RunConfig) *agent.RunResult
}

// AgentSource 按 key 解析入口 Agent，agent.Registry 实现它
type AgentSource interface {
	Get(ctx context.Context, key string) (*agent.Agent, error)
	Has(key string) bool
}

// Router 为 "auto" 请求选择入口 Agent，agent.Classifier 实现它
type Router interface {
	Classify(ctx context.Context, text string) (agent.Outcome, error)
}

// ChatHandler 直接对话处理器
type ChatHandler struct {
	runner       ChatRunner
	agents       AgentSource
	router       Router
	defaultAgent string
	logger       *zap.Logger
}

// ChatOption 配置 ChatHandler
type ChatOption func(*ChatHandler)

// WithRouter 启用 "auto" 路由
func WithRouter(r Router) ChatOption {
	return func(h *ChatHandler) { h.router = r }
}

// WithDefaultAgent 设置未指定 agent 时的入口，也是路由失败时的回退
func WithDefaultAgent(key string) ChatOption {
	return func(h *ChatHandler) { h.defaultAgent = key }
}

// NewChatHandler 创建直接对话处理器
func NewChatHandler(runner ChatRunner, agents AgentSource, logger *zap.Logger, opts ...ChatOption) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChatHandler{
		runner: runner,
		agents: agents,
		logger: logger.With(zap.String("handler", "chat")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleChat 阻塞式运行
// @Summary 直接对话
// @Description 以指定 Agent 为入口运行委派，返回最终输出与交接路径
// @Tags 对话
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {object} api.ChatResponse "运行结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "Agent 不存在"
// @Failure 502 {object} Response "运行失败"
// @Router /v1/chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	key, root, apiErr := h.prepare(r.Context(), &req)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	res := h.runner.Run(r.Context(), root, req.Message, h.runConfig(r.Context(), &req))
	if !res.Success {
		h.logger.Warn("chat run failed",
			zap.String("agent", key),
			zap.String("trace_id", res.TraceID),
			zap.String("error", res.Error))
		WriteError(w, types.NewError(types.ErrUpstreamError, FailureMessage), nil)
		return
	}
	WriteSuccess(w, api.NewChatResponse(key, res))
}

// HandleStream SSE 流式运行
// @Summary 流式对话
// @Description 以 text/event-stream 推送 start/token/handoff/error/complete 事件
// @Tags 对话
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "Agent 不存在"
// @Router /v1/chat/stream [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	key, root, apiErr := h.prepare(r.Context(), &req)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher}
	h.runner.RunStreamed(r.Context(), root, req.Message, h.callbacks(key, sse.send), h.runConfig(r.Context(), &req))
}

// HandleWebSocket WebSocket 流式运行。每条文本消息是一个 api.ChatRequest，
// 服务端按顺序回推该次运行的事件，连接可复用多次。
// @Summary WebSocket 对话
// @Tags 对话
// @Router /v1/chat/ws [get]
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		var req api.ChatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		send := func(ev api.StreamEvent) error { return wsjson.Write(ctx, conn, ev) }

		key, root, apiErr := h.prepare(ctx, &req)
		if apiErr != nil {
			if err := send(api.StreamEvent{Type: api.EventError, Error: apiErr.Message}); err != nil {
				return
			}
			continue
		}
		h.runner.RunStreamed(ctx, root, req.Message, h.callbacks(key, send), h.runConfig(ctx, &req))
		if ctx.Err() != nil {
			return
		}
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// prepare 校验请求并解析入口 Agent
func (h *ChatHandler) prepare(ctx context.Context, req *api.ChatRequest) (string, *agent.Agent, *types.Error) {
	if req.Message == "" {
		return "", nil, types.NewError(types.ErrInvalidRequest, "message is required")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return "", nil, types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return "", nil, types.NewError(types.ErrInvalidRequest, "max_tokens must be positive")
	}
	if req.MaxTurns < 0 {
		return "", nil, types.NewError(types.ErrInvalidRequest, "max_turns must not be negative")
	}

	key, apiErr := h.resolveKey(ctx, req.Agent, req.Message)
	if apiErr != nil {
		return "", nil, apiErr
	}
	root, err := h.agents.Get(ctx, key)
	if err != nil {
		if types.IsCode(err, types.ErrAgentNotFound) {
			return "", nil, types.Errorf(types.ErrAgentNotFound, "agent %q not found", key)
		}
		return "", nil, types.Errorf(types.ErrInternalError, "agent %q could not be built", key).WithCause(err)
	}
	return key, root, nil
}

func (h *ChatHandler) resolveKey(ctx context.Context, requested, message string) (string, *types.Error) {
	switch requested {
	case "":
		if h.defaultAgent == "" {
			return "", types.NewError(types.ErrInvalidRequest, "agent is required")
		}
		return h.defaultAgent, nil
	case api.AutoRoute:
		if h.router == nil {
			return "", types.NewError(types.ErrInvalidRequest, "automatic routing is not enabled")
		}
		if key := h.route(ctx, message); key != "" {
			return key, nil
		}
		if h.defaultAgent == "" {
			return "", types.NewError(types.ErrAgentNotFound, "no agent matched the message")
		}
		return h.defaultAgent, nil
	default:
		return requested, nil
	}
}

// route 分类失败或结果不可用时返回空串，由调用方回退到默认 Agent
func (h *ChatHandler) route(ctx context.Context, message string) string {
	outcome, err := h.router.Classify(ctx, message)
	if err != nil {
		h.logger.Warn("routing classification failed", zap.Error(err))
		return ""
	}
	switch o := outcome.(type) {
	case agent.Structured:
		key, ok := o.String("agent")
		if ok && h.agents.Has(key) {
			return key
		}
		h.logger.Warn("router picked an unknown agent", zap.String("agent", key))
	case agent.Unparsed:
		h.logger.Warn("router reply was not structured", zap.String("raw", o.Raw))
	}
	return ""
}

func (h *ChatHandler) runConfig(ctx context.Context, req *api.ChatRequest) agent.RunConfig {
	cfg := agent.RunConfig{
		MaxTurns:    req.MaxTurns,
		History:     req.History,
		GroupID:     req.GroupID,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Metadata:    req.Metadata,
	}
	if uid, ok := types.UserID(ctx); ok {
		cfg.OwnerID = uid
	}
	return cfg
}

// callbacks 把运行事件转成 StreamEvent；错误事件只携带固定文案
func (h *ChatHandler) callbacks(key string, send func(api.StreamEvent) error) agent.StreamCallbacks {
	emit := func(ev api.StreamEvent) {
		if err := send(ev); err != nil {
			h.logger.Debug("stream event dropped", zap.String("type", ev.Type), zap.Error(err))
		}
	}
	return agent.StreamCallbacks{
		OnStart: func() {
			emit(api.StreamEvent{Type: api.EventStart, Agent: key})
		},
		OnToken: func(text string) {
			emit(api.StreamEvent{Type: api.EventToken, Token: text})
		},
		OnHandoff: func(from, to, reason string, data map[string]any) {
			emit(api.StreamEvent{Type: api.EventHandoff, From: from, To: to, Reason: reason, Data: data})
		},
		OnError: func(err error) {
			h.logger.Warn("streamed run failed", zap.String("agent", key), zap.Error(err))
			emit(api.StreamEvent{Type: api.EventError, Error: FailureMessage})
		},
		OnComplete: func(res *agent.RunResult) {
			emit(api.StreamEvent{Type: api.EventComplete, Result: api.NewChatResponse(key, res)})
		},
	}
}

// sseWriter 串行写出 SSE 事件
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) send(ev api.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
