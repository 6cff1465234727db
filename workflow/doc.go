// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 执行持久化的 Agent 节点图。

# 概述

工作流图由节点（agent / input / output）和有向边组成，可以从 JSON 或 YAML
解析。Executor 按 Kahn 拓扑序逐个执行节点，每个节点执行前通过 Control
检查一次控制信号（取消、暂停、追加指令），并把每个步骤的输入输出写入
store.TaskStore。

# 核心类型

  - Graph / Node / Edge：图模型，Validate 拒绝未知端点与多前驱节点
  - TopologicalOrder：稳定拓扑排序，按声明顺序打破平局；有环时返回不完整顺序
  - Control / Signal：检查点接口；StoreControl 轮询任务状态并领取待处理指令
  - Executor：图执行器，Execute 执行内存中的图，Run 执行已保存的工作流

# 执行语义

  - 第一个节点接收初始输入，其余节点接收前驱节点的输出
  - 领取到的指令以 "Additional instruction" 段落追加到节点输入
  - agent 节点失败不会中止工作流，输出为 "[error] ..." 描述
  - 没有 output 节点时返回固定的提示文本 NoOutputResult
*/
package workflow
