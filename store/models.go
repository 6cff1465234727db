package store

import (
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskPaused     TaskStatus = "paused"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

// Halts reports whether a running workflow must stop at its next checkpoint.
func (s TaskStatus) Halts() bool {
	return s == TaskCancelled || s == TaskPaused
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskInProgress, TaskCompleted, TaskCancelled, TaskPaused, TaskFailed:
		return true
	}
	return false
}

var terminalStatuses = []TaskStatus{TaskCompleted, TaskCancelled, TaskFailed}

// canTransition 终态之后不允许任何转换
func canTransition(from TaskStatus) bool {
	return !from.IsTerminal()
}

// StepStatus 步骤状态
type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// Task 是一次工作流执行
type Task struct {
	ID         string     `gorm:"primaryKey;size:64" json:"id"`
	WorkflowID string     `gorm:"size:64;index" json:"workflow_id"`
	UserID     string     `gorm:"size:128;index" json:"user_id"`
	Status     TaskStatus `gorm:"size:20;not null;index" json:"status"`
	Input      string     `gorm:"type:text" json:"input"`
	Result     string     `gorm:"type:text" json:"result"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

// TaskStep 记录单个节点的执行
type TaskStep struct {
	ID        string     `gorm:"primaryKey;size:64" json:"id"`
	TaskID    string     `gorm:"size:64;not null;index:idx_task_steps_task" json:"task_id"`
	NodeID    string     `gorm:"size:128;not null" json:"node_id"`
	Seq       int        `gorm:"not null;default:0;index:idx_task_steps_task" json:"seq"`
	Status    StepStatus `gorm:"size:20;not null" json:"status"`
	Input     string     `gorm:"type:text" json:"input"`
	Output    string     `gorm:"type:text" json:"output"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (TaskStep) TableName() string { return "task_steps" }

// TaskInstruction 是运行中注入的一条附加指令，每条至多应用一次
type TaskInstruction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TaskID    string    `gorm:"size:64;not null;index:idx_task_instructions_pending" json:"task_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Applied   bool      `gorm:"not null;default:false;index:idx_task_instructions_pending" json:"applied"`
	CreatedAt time.Time `json:"created_at"`
}

func (TaskInstruction) TableName() string { return "task_instructions" }

// Workflow 是持久化的工作流图定义，Graph 为 JSON 文本
type Workflow struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"size:200;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	OwnerID     string    `gorm:"size:128;index" json:"owner_id"`
	Graph       string    `gorm:"type:text;not null" json:"graph"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Workflow) TableName() string { return "workflows" }

// TraceRecord 是 tracing.Trace 的持久化形式
type TraceRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	WorkflowName string    `gorm:"size:200"`
	GroupID      string    `gorm:"size:128;index"`
	OwnerID      string    `gorm:"size:128;index:idx_traces_owner"`
	Metadata     string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index:idx_traces_owner"`
	EndedAt      *time.Time
	Spans        []SpanRecord `gorm:"foreignKey:TraceID;constraint:OnDelete:CASCADE"`
}

func (TraceRecord) TableName() string { return "traces" }

// SpanRecord 是 tracing.Span 的持久化形式，Seq 保留开始顺序
type SpanRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	TraceID   string `gorm:"size:64;not null;index"`
	ParentID  string `gorm:"size:64"`
	Seq       int    `gorm:"not null;default:0"`
	Type      string `gorm:"size:20;not null"`
	Name      string `gorm:"size:200"`
	Data      string `gorm:"type:text"`
	StartedAt time.Time
	EndedAt   *time.Time
}

func (SpanRecord) TableName() string { return "trace_spans" }

// HandoffRecord 是一次交接的审计记录
type HandoffRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TraceID   string    `gorm:"size:64;index" json:"trace_id"`
	FromAgent string    `gorm:"size:128;not null" json:"from_agent"`
	ToAgent   string    `gorm:"size:128;not null" json:"to_agent"`
	Reason    string    `gorm:"type:text" json:"reason"`
	Data      string    `gorm:"type:text" json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (HandoffRecord) TableName() string { return "handoff_records" }

// AllModels 返回需要建表的模型，供 AutoMigrate 使用
func AllModels() []any {
	return []any{
		&Task{}, &TaskStep{}, &TaskInstruction{}, &Workflow{},
		&TraceRecord{}, &SpanRecord{}, &HandoffRecord{},
	}
}
