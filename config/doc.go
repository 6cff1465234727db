// Package config 提供 agentrelay 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 AGENTRELAY）的顺序加载，
// 之后运行验证器。Reloader 轮询配置文件，变更时重新加载并通知订阅者，
// 目前用于运行时调整日志级别。
package config
