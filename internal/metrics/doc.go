// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、LLM、
委派运行、工作流节点与任务状态缓存。

# 概述

Collector 在自己的 prometheus.Registry 上通过 promauto.With 注册全部指标，
并附带 Go 运行时与进程采集器。Handler 返回绑定该 Registry 的 /metrics
处理器，由独立的指标端口对外暴露。

# 核心类型

  - Collector：同时满足 agent.Metrics、workflow.Metrics 与
    store.CacheMetrics，由 cmd 层注入各组件。
  - InstrumentedProvider：包装 llm.Provider，按 provider/model/status
    记录请求数、耗时与 token 用量，Stream 在流结束时记账。

# 主要能力

  - HTTP 指标：状态码归类为 2xx/3xx/4xx/5xx。
  - 委派指标：按入口 Agent 统计运行、按 Agent 统计轮次、按 from/to 统计交接。
  - 工作流指标：按节点类型统计执行与耗时，按最终状态统计执行，外加在途执行数。
  - 数据库指标：RegisterDB 注册 database/sql 连接池统计。
*/
package metrics
