// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 agentrelay 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 流式辅助: DrainStream 把分片汇总为 Transcript（文本、按 Index 合并的
    工具调用、结束原因与用量）；CollectStreamContent 只取文本

# 子包

  - testutil/mocks: MockProvider（脚本化 llm.Provider），支持按 Agent 指令
    分派回复、流式分片输出（文本与工具参数片段）、错误注入与调用记录
*/
package testutil
