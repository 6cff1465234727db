package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/tracing"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 基于 GORM 的 Store 实现
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore 创建 GormStore
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "gorm_store"))}
}

// AutoMigrate 按模型建表，仅用于测试与 sqlite 开发环境；生产使用 internal/migration
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

// DB 返回底层连接
func (s *GormStore) DB() *gorm.DB { return s.db }

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

// =============================================================================
// 📋 Task
// =============================================================================

func (s *GormStore) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = NewID()
	}
	if task.Status == "" {
		task.Status = TaskInProgress
	}
	if !task.Status.Valid() {
		return invalidStatus(task.Status)
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *GormStore) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "task", id)
	}
	return &t, nil
}

func (s *GormStore) GetTaskStatus(ctx context.Context, id string) (TaskStatus, error) {
	var t Task
	err := s.db.WithContext(ctx).Select("status").First(&t, "id = ?", id).Error
	if err != nil {
		return "", notFound(err, "task", id)
	}
	return t.Status, nil
}

func (s *GormStore) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	return s.transition(ctx, id, status, map[string]any{"status": status})
}

func (s *GormStore) FinishTask(ctx context.Context, id string, status TaskStatus, result string) error {
	return s.transition(ctx, id, status, map[string]any{"status": status, "result": result})
}

// transition 以条件更新保证终态不可覆盖
func (s *GormStore) transition(ctx context.Context, id string, to TaskStatus, updates map[string]any) error {
	if !to.Valid() {
		return invalidStatus(to)
	}
	updates["updated_at"] = time.Now()
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update task %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	current, err := s.GetTaskStatus(ctx, id)
	if err != nil {
		return err
	}
	return invalidMove(id, current, to)
}

func (s *GormStore) ListTasks(ctx context.Context, userID string, limit int) ([]Task, error) {
	var tasks []Task
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(normalizeLimit(limit))
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// =============================================================================
// 🪜 TaskStep
// =============================================================================

func (s *GormStore) CreateStep(ctx context.Context, step *TaskStep) error {
	if step.ID == "" {
		step.ID = NewID()
	}
	if step.Status == "" {
		step.Status = StepInProgress
	}
	if err := s.db.WithContext(ctx).Create(step).Error; err != nil {
		return fmt.Errorf("create step for task %s: %w", step.TaskID, err)
	}
	return nil
}

func (s *GormStore) CompleteStep(ctx context.Context, stepID, output string) error {
	res := s.db.WithContext(ctx).Model(&TaskStep{}).Where("id = ?", stepID).Updates(map[string]any{
		"status":     StepCompleted,
		"output":     output,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("complete step %s: %w", stepID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}
	return nil
}

func (s *GormStore) ListSteps(ctx context.Context, taskID string) ([]TaskStep, error) {
	var steps []TaskStep
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("seq ASC, created_at ASC").Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("list steps for task %s: %w", taskID, err)
	}
	return steps, nil
}

// =============================================================================
// 📝 TaskInstruction
// =============================================================================

func (s *GormStore) AddInstruction(ctx context.Context, in *TaskInstruction) error {
	in.Applied = false
	if err := s.db.WithContext(ctx).Create(in).Error; err != nil {
		return fmt.Errorf("add instruction for task %s: %w", in.TaskID, err)
	}
	return nil
}

// ClaimInstruction 用 applied=false 条件更新抢占，保证同一指令只被应用一次
func (s *GormStore) ClaimInstruction(ctx context.Context, taskID string) (*TaskInstruction, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var in TaskInstruction
		err := s.db.WithContext(ctx).
			Where("task_id = ? AND applied = ?", taskID, false).
			Order("created_at ASC, id ASC").
			Limit(1).
			Find(&in).Error
		if err != nil {
			return nil, fmt.Errorf("load instruction for task %s: %w", taskID, err)
		}
		if in.ID == 0 {
			return nil, nil
		}

		res := s.db.WithContext(ctx).Model(&TaskInstruction{}).
			Where("id = ? AND applied = ?", in.ID, false).
			Update("applied", true)
		if res.Error != nil {
			return nil, fmt.Errorf("claim instruction %d: %w", in.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			in.Applied = true
			return &in, nil
		}
		s.logger.Debug("instruction claimed concurrently, retrying", zap.Uint("id", in.ID))
	}
	return nil, nil
}

func (s *GormStore) ListInstructions(ctx context.Context, taskID string) ([]TaskInstruction, error) {
	var out []TaskInstruction
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list instructions for task %s: %w", taskID, err)
	}
	return out, nil
}

// =============================================================================
// 🧭 Workflow
// =============================================================================

func (s *GormStore) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = NewID()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "owner_id", "graph", "updated_at"}),
	}).Create(wf).Error
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (s *GormStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	if err := s.db.WithContext(ctx).First(&wf, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "workflow", id)
	}
	return &wf, nil
}

func (s *GormStore) ListWorkflows(ctx context.Context, ownerID string) ([]Workflow, error) {
	var out []Workflow
	q := s.db.WithContext(ctx).Order("updated_at DESC")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return out, nil
}

// =============================================================================
// 🔭 Trace
// =============================================================================

// ExportTrace 实现 tracing.Exporter，重复导出同一 Trace 会覆盖旧记录
func (s *GormStore) ExportTrace(ctx context.Context, tr *tracing.Trace) error {
	if tr.Inert() || tr.ID == "" {
		return nil
	}
	rec := traceToRecord(tr)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("trace_id = ?", rec.ID).Delete(&SpanRecord{}).Error; err != nil {
			return fmt.Errorf("replace spans of trace %s: %w", rec.ID, err)
		}
		if err := tx.Where("id = ?", rec.ID).Delete(&TraceRecord{}).Error; err != nil {
			return fmt.Errorf("replace trace %s: %w", rec.ID, err)
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("export trace %s: %w", rec.ID, err)
		}
		return nil
	})
}

func (s *GormStore) GetTrace(ctx context.Context, id string) (*tracing.Trace, error) {
	var rec TraceRecord
	err := s.db.WithContext(ctx).
		Preload("Spans", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "trace", id)
	}
	return recordToTrace(&rec), nil
}

func (s *GormStore) ListTraces(ctx context.Context, ownerID string, limit int) ([]*tracing.Trace, error) {
	var recs []TraceRecord
	q := s.db.WithContext(ctx).
		Preload("Spans", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Order("started_at DESC").
		Limit(normalizeLimit(limit))
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	out := make([]*tracing.Trace, 0, len(recs))
	for i := range recs {
		out = append(out, recordToTrace(&recs[i]))
	}
	return out, nil
}

// =============================================================================
// 🔀 Handoff
// =============================================================================

// RecordHandoff 实现 agent.HandoffSink
func (s *GormStore) RecordHandoff(ctx context.Context, traceID string, ev agent.HandoffEvent) error {
	if err := s.db.WithContext(ctx).Create(handoffToRecord(traceID, ev)).Error; err != nil {
		return fmt.Errorf("record handoff %s -> %s: %w", ev.From, ev.To, err)
	}
	return nil
}

func (s *GormStore) ListHandoffs(ctx context.Context, traceID string) ([]HandoffRecord, error) {
	var out []HandoffRecord
	err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).Order("created_at ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list handoffs for trace %s: %w", traceID, err)
	}
	return out, nil
}
