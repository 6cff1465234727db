package workflow

import (
	"context"
	"errors"

	"github.com/BaSui01/agentrelay/store"
	"go.uber.org/zap"
)

// Instruction is a runtime directive folded into the next node's input.
type Instruction struct {
	ID      uint
	Content string
}

// Signal is what a checkpoint observed before a node runs.
type Signal struct {
	Status      store.TaskStatus
	Instruction *Instruction
}

// Halted reports whether execution must stop before the next node. Any
// status other than in_progress halts.
func (s Signal) Halted() bool { return s.Status != "" && s.Status != store.TaskInProgress }

// Control is consulted once before every node. It is the executor's only
// suspension point.
type Control interface {
	Checkpoint(ctx context.Context, taskID string) (Signal, error)
}

// ControlFunc adapts a function to Control.
type ControlFunc func(ctx context.Context, taskID string) (Signal, error)

func (f ControlFunc) Checkpoint(ctx context.Context, taskID string) (Signal, error) {
	return f(ctx, taskID)
}

// contextControl only observes cancellation of ctx.
type contextControl struct{}

func (contextControl) Checkpoint(ctx context.Context, _ string) (Signal, error) {
	if ctx.Err() != nil {
		return Signal{Status: store.TaskCancelled}, nil
	}
	return Signal{Status: store.TaskInProgress}, nil
}

// StoreControl polls the task row and claims at most one pending
// instruction per checkpoint.
type StoreControl struct {
	tasks  store.TaskStore
	logger *zap.Logger
}

// NewStoreControl creates a StoreControl. Wrap tasks in a
// store.CachedTaskStore to serve status polls from Redis.
func NewStoreControl(tasks store.TaskStore, logger *zap.Logger) *StoreControl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreControl{tasks: tasks, logger: logger.With(zap.String("component", "workflow_control"))}
}

// Checkpoint returns cancelled when ctx is done, the persisted status when
// it halts execution, and otherwise in_progress plus the oldest pending
// instruction. Read failures are logged and execution continues.
func (c *StoreControl) Checkpoint(ctx context.Context, taskID string) (Signal, error) {
	if ctx.Err() != nil {
		return Signal{Status: store.TaskCancelled}, nil
	}
	if taskID == "" {
		return Signal{Status: store.TaskInProgress}, nil
	}

	status, err := c.tasks.GetTaskStatus(ctx, taskID)
	switch {
	case err == nil:
		if status != store.TaskInProgress {
			return Signal{Status: status}, nil
		}
	case errors.Is(err, store.ErrNotFound):
		c.logger.Debug("task row not found, running uncontrolled", zap.String("task_id", taskID))
		return Signal{Status: store.TaskInProgress}, nil
	default:
		c.logger.Warn("failed to read task status", zap.String("task_id", taskID), zap.Error(err))
	}

	sig := Signal{Status: store.TaskInProgress}
	in, err := c.tasks.ClaimInstruction(ctx, taskID)
	if err != nil {
		c.logger.Warn("failed to read task instructions", zap.String("task_id", taskID), zap.Error(err))
		return sig, nil
	}
	if in != nil {
		sig.Instruction = &Instruction{ID: in.ID, Content: in.Content}
	}
	return sig, nil
}
