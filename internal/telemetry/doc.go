// Package telemetry 初始化 OpenTelemetry SDK：OTLP gRPC 导出 trace 与 metric，
// 并注册 W3C TraceContext 传播器。未启用时保持 otel 全局 noop 实现。
//
// ObserveRuns 把后台运行池的 worker、执行中、排队与拒绝数注册为可观测指标，
// 经 Providers.Meter 随 OTLP 导出；Prometheus 端口上的指标由 internal/metrics 负责。
package telemetry
