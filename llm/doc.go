// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package llm 定义 agentrelay 与大语言模型服务之间的补全契约。

# 概述

上层的 agent.Runner 只依赖 [Provider] 接口：一次阻塞补全（[Provider.Completion]）
或一次流式补全（[Provider.Stream]）。具体的 HTTP 适配器位于
llm/providers/openaicompat，测试使用 testutil/mocks 中的脚本化实现。

# 核心类型

  - [ChatRequest]：模型、消息、工具定义与采样参数
  - [ChatResponse] / [ChatChoice]：阻塞补全结果
  - [StreamChunk]：流式增量（文本或工具调用片段）
  - [Error] / [ErrorCode]：上游错误，携带 HTTP 状态与可重试标记

# 错误语义

Provider 返回的错误应为 *[Error]；运行器不会重试，错误直接终止本次运行。
*/
package llm
