// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentrelay 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、workflow、tracing、
store、api 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - Message / Role：对话消息（system / user / assistant / tool）
  - ToolCall：模型返回的结构化工具调用（名称 + JSON 参数）
  - ToolSchema：发送给模型的工具定义（name + description + JSON Schema）
  - JSONSchema：JSON Schema 构建器（交接工具的输入参数）
  - Error / ErrorCode：结构化错误，含 HTTP 状态码与 Retryable 标记

# Context 传播

WithTraceID / WithRunID / WithUserID / WithTaskID / WithAgentName 在调用链中
传递观测与审计所需的标识。
*/
package types
