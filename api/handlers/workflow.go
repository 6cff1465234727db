package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/store"
	"github.com/BaSui01/agentrelay/types"
	"github.com/BaSui01/agentrelay/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// 🔀 工作流 Handler
// =============================================================================

// WorkflowRunner 准备并执行持久化的工作流，workflow.Executor 实现它
type WorkflowRunner interface {
	Prepare(ctx context.Context, workflowID, userID, input string) (*store.Task, *workflow.Graph, error)
	ExecuteTask(ctx context.Context, task *store.Task, g *workflow.Graph) (*workflow.Result, error)
	Abandon(ctx context.Context, task *store.Task, reason string) error
}

// Launcher 在请求生命周期之外执行 fn。服务端实现负责并发上限、超时与关闭时的等待；
// 无法接收时返回错误，fn 不会被执行。
type Launcher func(fn func(ctx context.Context)) error

// goLauncher 未注入 Launcher 时直接起 goroutine
func goLauncher(fn func(ctx context.Context)) error {
	go fn(context.Background())
	return nil
}

// WorkflowHandler 工作流定义与运行
type WorkflowHandler struct {
	workflows store.WorkflowStore
	runner    WorkflowRunner
	launch    Launcher
	logger    *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器；launch 为 nil 时使用裸 goroutine
func NewWorkflowHandler(workflows store.WorkflowStore, runner WorkflowRunner, launch Launcher, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if launch == nil {
		launch = goLauncher
	}
	return &WorkflowHandler{
		workflows: workflows,
		runner:    runner,
		launch:    launch,
		logger:    logger.With(zap.String("handler", "workflow")),
	}
}

// HandleSave 保存工作流定义
// @Summary 保存工作流
// @Description 校验并保存工作流图；指定已存在的 id 时覆盖
// @Tags 工作流
// @Accept json
// @Produce json
// @Param request body api.SaveWorkflowRequest true "工作流定义"
// @Success 201 {object} api.WorkflowResponse "已保存"
// @Failure 400 {object} Response "图结构非法"
// @Router /v1/workflows [post]
func (h *WorkflowHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.SaveWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "name is required"), h.logger)
		return
	}
	if len(req.Graph) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "graph is required"), h.logger)
		return
	}
	g, err := workflow.ParseGraph(req.Graph)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidGraph, err.Error()).WithCause(err), h.logger)
		return
	}
	graphJSON, err := g.ToJSON()
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}

	owner, _ := types.UserID(r.Context())
	if req.ID != "" {
		prev, err := h.workflows.GetWorkflow(r.Context(), req.ID)
		switch {
		case err == nil && !ownedBy(prev.OwnerID, owner):
			WriteError(w, types.Errorf(types.ErrConflict, "workflow %s belongs to another user", req.ID), h.logger)
			return
		case err != nil && !isNotFound(err):
			WriteFailure(w, err, h.logger)
			return
		}
	}

	wf := &store.Workflow{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     owner,
		Graph:       string(graphJSON),
	}
	if err := h.workflows.SaveWorkflow(r.Context(), wf); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}

	h.logger.Info("workflow saved",
		zap.String("workflow_id", wf.ID),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)))
	WriteSuccessStatus(w, http.StatusCreated, api.NewWorkflowResponse(wf))
}

// HandleGet 查询工作流
// @Summary 查询工作流
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} api.WorkflowResponse "工作流"
// @Failure 404 {object} Response "不存在"
// @Router /v1/workflows/{id} [get]
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.load(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, api.NewWorkflowResponse(wf))
}

// HandleList 列出当前用户的工作流
// @Summary 工作流列表
// @Tags 工作流
// @Produce json
// @Success 200 {array} api.WorkflowResponse "工作流列表"
// @Router /v1/workflows [get]
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, _ := types.UserID(r.Context())
	list, err := h.workflows.ListWorkflows(r.Context(), owner)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	out := make([]*api.WorkflowResponse, 0, len(list))
	for i := range list {
		out = append(out, api.NewWorkflowResponse(&list[i]))
	}
	WriteSuccess(w, out)
}

// HandleRun 运行工作流。默认异步：创建任务后立即返回 202 与任务 ID；
// wait=true 时在请求内执行并返回结果。
// @Summary 运行工作流
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param request body api.RunWorkflowRequest true "运行参数"
// @Success 200 {object} api.RunWorkflowResponse "同步执行结果"
// @Success 202 {object} api.RunWorkflowResponse "已创建任务"
// @Failure 404 {object} Response "工作流不存在"
// @Router /v1/workflows/{id}/run [post]
func (h *WorkflowHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.RunWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if _, ok := h.load(w, r); !ok {
		return
	}

	user, _ := types.UserID(r.Context())
	task, g, err := h.runner.Prepare(r.Context(), r.PathValue("id"), user, req.Input)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	log := h.logger.With(zap.String("task_id", task.ID), zap.String("workflow_id", task.WorkflowID))

	if req.Wait {
		res, err := h.runner.ExecuteTask(r.Context(), task, g)
		if err != nil {
			log.Warn("workflow execution failed", zap.Error(err))
			if errors.Is(err, context.DeadlineExceeded) {
				WriteFailure(w, types.NewError(types.ErrTimeout, "workflow execution timed out").WithCause(err), h.logger)
				return
			}
			WriteFailure(w, types.NewError(types.ErrWorkflowFailed, "workflow execution failed").WithCause(err), h.logger)
			return
		}
		WriteSuccess(w, api.RunWorkflowResponse{TaskID: task.ID, Status: res.Status, Result: res})
		return
	}

	err = h.launch(func(ctx context.Context) {
		ctx = types.WithTaskID(ctx, task.ID)
		res, err := h.runner.ExecuteTask(ctx, task, g)
		if err != nil {
			log.Warn("workflow execution failed", zap.Error(err))
			return
		}
		log.Info("workflow execution finished",
			zap.String("status", string(res.Status)),
			zap.Int("steps", len(res.Steps)),
			zap.Duration("elapsed", res.Elapsed))
	})
	if err != nil {
		log.Warn("workflow execution rejected", zap.Error(err))
		if aerr := h.runner.Abandon(context.WithoutCancel(r.Context()), task, err.Error()); aerr != nil {
			log.Error("failed to abandon task", zap.Error(aerr))
		}
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "no capacity to run the workflow, retry later").WithCause(err).WithRetryable(true), h.logger)
		return
	}

	log.Info("workflow execution launched")
	WriteSuccessStatus(w, http.StatusAccepted, api.RunWorkflowResponse{TaskID: task.ID, Status: task.Status})
}

// load 读取路径中的工作流并校验归属；其他用户的工作流视为不存在
func (h *WorkflowHandler) load(w http.ResponseWriter, r *http.Request) (*store.Workflow, bool) {
	id := r.PathValue("id")
	wf, err := h.workflows.GetWorkflow(r.Context(), id)
	if err == nil {
		user, _ := types.UserID(r.Context())
		if ownedBy(wf.OwnerID, user) {
			return wf, true
		}
	} else if !isNotFound(err) {
		WriteFailure(w, err, h.logger)
		return nil, false
	}
	WriteError(w, types.Errorf(types.ErrNotFound, "workflow %s not found", id), h.logger)
	return nil, false
}
