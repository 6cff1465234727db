// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 agentrelay HTTP API 的请求处理器实现。

# 概述

所有 Handler 均遵循标准 net/http 接口，依赖以接口形式注入
（Runner、Registry、Executor、各类 Store），便于在测试中替换。
路由由 cmd/agentrelay 基于 Go 1.22 的 ServeMux 模式注册，
路径参数通过 r.PathValue("id") 读取。

# 核心类型

  - ChatHandler：直接对话，阻塞、SSE 与 WebSocket 三种形态，支持 "auto" 路由
  - WorkflowHandler：工作流定义的保存、查询与运行（异步或同步等待）
  - TaskHandler：任务查询、取消、暂停与运行中指令注入
  - TraceHandler：追踪树与交接审计查询
  - HealthHandler：/health、/healthz 与 /version
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter：包装 http.ResponseWriter，记录状态码与字节数，透传 Flush/Hijack

# 错误处理

types.Error 的错误码经 mapErrorCodeToHTTPStatus 映射为 HTTP 状态码；
store.ErrNotFound 映射为 404，context.DeadlineExceeded 映射为 504；
其他错误统一返回 500 且不暴露内部细节。请求体解码失败返回 400（超过 1 MiB 为 413），
错误信息指出位置或字段但不回显请求内容。
对话运行失败时只返回固定文案 FailureMessage，真实原因写入日志。

# 归属

请求上下文携带用户 ID（types.WithUserID）时，工作流、任务与追踪
只对其所有者可见，其他用户得到 404。

# 后台运行

WorkflowHandler 通过注入的 Launcher 提交异步执行。Launcher 拒绝时
（容量已满或正在关闭）任务被标记为失败，接口返回可重试的 503。
*/
package handlers
