// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package agent 提供多 Agent 交接（handoff）运行时。

# 概述

一个 [Agent] 是不可变的对话参与者：名称、系统指令、模型参数、
可调用的函数工具以及可交接的目标 Agent。交接以工具调用的形式暴露给模型，
工具名由目标名称确定性生成（见 [HandoffToolName]），参数中必须包含 reason。

# 构建

Agent 只能通过 [Builder] 创建，Build 之后不可再修改。
子 Agent 需要先构建，父 Agent 再通过 WithHandoffTo 引用它们；
Build 会拒绝空名称、重复的交接工具名以及与函数工具重名的交接。

# 运行

[Runner] 驱动一次运行：从根 Agent 开始，每一跳（hop）把
系统指令 + 历史 + 用户消息 + 工具定义发送给 llm.Provider：

  - 纯文本回复：本跳为终止跳，运行结束
  - 交接工具调用：应用上下文过滤器、触发 OnHandoff、切换当前 Agent
  - 函数工具调用：执行工具，把结果追加到本 Agent 的草稿消息中继续
  - 达到 MaxTurns：返回最近一跳的文本，MaxTurnsReached 置为 true

[Runner.Run] 为阻塞模式；[Runner.RunStreamed] 通过 [StreamCallbacks]
实时推送 token 与交接事件，工具调用片段在流结束后才被解析。

# 注册表

[Registry] 按名称缓存已构建的 Agent，首次构建由 singleflight 去重，
不存在任何进程级全局状态；每个服务实例持有自己的注册表。
*/
package agent
