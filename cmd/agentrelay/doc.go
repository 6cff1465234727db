// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 agentrelay 服务端程序入口。

# 概述

cmd/agentrelay 装配存储、模型 Provider、Agent 目录、Runner 与工作流执行器，
对外提供 HTTP API，并附带数据库迁移、健康检查与版本查询子命令。

# 核心类型

  - Server：持有全部运行时组件，API 与 Metrics 双端口放在同一个 errgroup 中
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler
  - RateLimiter：基于客户端 IP 的令牌桶限流，速率可热更新

# 主要能力

  - 子命令：serve、migrate（up/down/reset/status/version/goto/force）、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、Metrics、RequestLogger、
    SecurityHeaders、RateLimiter、UserIdentity（X-User-ID）
  - 配置热更新：日志级别、默认轮次上限与限流速率无需重启
  - 后台工作流：在 internal/pool 中执行，受并发上限与 ExecutionTimeout 约束，关闭时先等待再取消
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
