// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package tracing 记录一次运行的层级 Span 树，用于观测多 Agent 交接过程。

# 模型

每次运行对应一个 [Trace]；每个 Agent 回合对应一个 agent 类型的 [Span]，
每次交接对应一个 handoff 类型的 [Span]，其父节点是触发它的 agent Span。

# 关闭追踪

[Noop] 返回的记录器以及 [Tracer.SetEnabled](false) 之后的 [Tracer]
都返回惰性句柄（Inert() 为 true）。调用方无需判空或分支，
所有方法都接受惰性句柄并直接忽略。

# 导出

[Tracer] 可桥接 OpenTelemetry（每个 Span 同时开启一个 OTel Span），
并在 EndTrace 时把完成的 Trace 交给 [Exporter] 持久化。
导出失败只记录日志，不影响运行结果。
*/
package tracing
