// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理。

# 概述

Manager 封装 net/http.Server，由调用方的 context 驱动：Run 监听并服务，
context 结束后在 ShutdownTimeout 内排空进行中的请求（包括 SSE 流与
WebSocket 升级前的请求）再返回。cmd/agentrelay 用两个 Manager 分别承载
API 端口与 Prometheus 指标端口，并放进同一个 errgroup。

# 核心类型

  - Manager：持有 http.Server 与 net.Listener，提供 Run/Shutdown/Ready/Addr。
  - Config：监听地址、读写超时、空闲超时、最大请求头与优雅关闭超时。

信号处理不在本包内，由入口使用 signal.NotifyContext 转换为 context 取消。
*/
package server
