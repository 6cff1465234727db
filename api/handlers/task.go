package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/store"
	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📋 任务 Handler
// =============================================================================

// TaskHandler 任务查询与运行中控制（取消、暂停、注入指令）
type TaskHandler struct {
	tasks  store.TaskStore
	logger *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(tasks store.TaskStore, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		tasks:  tasks,
		logger: logger.With(zap.String("handler", "task")),
	}
}

// HandleGet 查询任务及其步骤与指令
// @Summary 查询任务
// @Tags 任务
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} api.TaskResponse "任务详情"
// @Failure 404 {object} Response "不存在"
// @Router /v1/tasks/{id} [get]
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	task, ok := h.load(w, r)
	if !ok {
		return
	}
	steps, err := h.tasks.ListSteps(r.Context(), task.ID)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	instructions, err := h.tasks.ListInstructions(r.Context(), task.ID)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	if steps == nil {
		steps = []store.TaskStep{}
	}
	if instructions == nil {
		instructions = []store.TaskInstruction{}
	}
	WriteSuccess(w, api.TaskResponse{Task: task, Steps: steps, Instructions: instructions})
}

// HandleList 列出当前用户最近的任务
// @Summary 任务列表
// @Tags 任务
// @Produce json
// @Param limit query int false "条数上限"
// @Success 200 {array} store.Task "任务列表"
// @Router /v1/tasks [get]
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, _ := types.UserID(r.Context())
	tasks, err := h.tasks.ListTasks(r.Context(), user, QueryLimit(r, store.DefaultListLimit))
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, tasks)
}

// HandleCancel 取消任务，执行器在下一个节点前停止
// @Summary 取消任务
// @Tags 任务
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} store.Task "更新后的任务"
// @Failure 409 {object} Response "任务已结束"
// @Router /v1/tasks/{id}/cancel [post]
func (h *TaskHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, store.TaskCancelled)
}

// HandlePause 暂停任务，执行器在下一个节点前停止
// @Summary 暂停任务
// @Tags 任务
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} store.Task "更新后的任务"
// @Failure 409 {object} Response "任务已结束"
// @Router /v1/tasks/{id}/pause [post]
func (h *TaskHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, store.TaskPaused)
}

// HandleInstruction 注入一条附加指令，下一个节点执行前生效
// @Summary 注入指令
// @Tags 任务
// @Accept json
// @Produce json
// @Param id path string true "任务 ID"
// @Param request body api.InstructionRequest true "指令"
// @Success 201 {object} store.TaskInstruction "已排队的指令"
// @Failure 409 {object} Response "任务已结束"
// @Router /v1/tasks/{id}/instructions [post]
func (h *TaskHandler) HandleInstruction(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.InstructionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "content is required"), h.logger)
		return
	}

	task, ok := h.load(w, r)
	if !ok {
		return
	}
	if task.Status.IsTerminal() {
		WriteError(w, types.Errorf(types.ErrInvalidTaskMove, "task %s is already %s", task.ID, task.Status), h.logger)
		return
	}

	in := &store.TaskInstruction{TaskID: task.ID, Content: content}
	if err := h.tasks.AddInstruction(r.Context(), in); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	h.logger.Info("instruction queued", zap.String("task_id", task.ID), zap.Uint("instruction_id", in.ID))
	WriteSuccessStatus(w, http.StatusCreated, in)
}

func (h *TaskHandler) move(w http.ResponseWriter, r *http.Request, to store.TaskStatus) {
	task, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.tasks.UpdateTaskStatus(r.Context(), task.ID, to); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	updated, err := h.tasks.GetTask(r.Context(), task.ID)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	h.logger.Info("task status changed",
		zap.String("task_id", task.ID),
		zap.String("from", string(task.Status)),
		zap.String("to", string(to)))
	WriteSuccess(w, updated)
}

// load 读取路径中的任务并校验归属；其他用户的任务视为不存在
func (h *TaskHandler) load(w http.ResponseWriter, r *http.Request) (*store.Task, bool) {
	id := r.PathValue("id")
	task, err := h.tasks.GetTask(r.Context(), id)
	if err == nil {
		user, _ := types.UserID(r.Context())
		if ownedBy(task.UserID, user) {
			return task, true
		}
	} else if !isNotFound(err) {
		WriteFailure(w, err, h.logger)
		return nil, false
	}
	WriteError(w, types.Errorf(types.ErrTaskNotFound, "task %s not found", id), h.logger)
	return nil, false
}

// ownedBy 匿名请求（无用户 ID）可以访问全部记录
func ownedBy(owner, user string) bool {
	return user == "" || owner == user
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
