// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package store 提供任务、步骤、指令、工作流定义、追踪与交接审计的持久化。

# 核心接口

  - TaskStore：任务状态、步骤记录、运行时指令
  - WorkflowStore：工作流图定义
  - TraceStore：追踪导出与查询（实现 tracing.Exporter）
  - HandoffStore：交接审计（实现 agent.HandoffSink）
  - Store：以上四者的组合

# 实现

  - GormStore：基于 GORM，支持 postgres / mysql / sqlite
  - MemoryStore：进程内实现，用于测试与无数据库部署
  - CachedTaskStore：以 Redis 缓存任务状态的 TaskStore 装饰器

# 状态机

任务状态 in_progress 可转为 paused / cancelled / completed / failed；
paused 可恢复为 in_progress 或转为终态；终态（completed / cancelled / failed）
不可再变更，违规转换返回 types.ErrInvalidTaskMove。
*/
package store
