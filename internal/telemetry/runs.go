package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// RunStats 后台运行池在某一时刻的快照
type RunStats struct {
	Workers  int
	Active   int
	Queued   int
	Rejected int64
}

// ObserveRuns 在 meter 上注册后台运行池指标，每次采集时调用 snapshot 取值。
// 返回的 Registration 可用于注销回调
func ObserveRuns(meter metric.Meter, snapshot func() RunStats) (metric.Registration, error) {
	workers, err := meter.Int64ObservableGauge("agentrelay.runs.workers",
		metric.WithDescription("Live background run workers"))
	if err != nil {
		return nil, fmt.Errorf("create runs.workers gauge: %w", err)
	}
	active, err := meter.Int64ObservableGauge("agentrelay.runs.active",
		metric.WithDescription("Workflow runs currently executing"))
	if err != nil {
		return nil, fmt.Errorf("create runs.active gauge: %w", err)
	}
	queued, err := meter.Int64ObservableGauge("agentrelay.runs.queued",
		metric.WithDescription("Workflow runs waiting for a worker"))
	if err != nil {
		return nil, fmt.Errorf("create runs.queued gauge: %w", err)
	}
	rejected, err := meter.Int64ObservableCounter("agentrelay.runs.rejected",
		metric.WithDescription("Workflow runs refused because the queue was full"))
	if err != nil {
		return nil, fmt.Errorf("create runs.rejected counter: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := snapshot()
		o.ObserveInt64(workers, int64(st.Workers))
		o.ObserveInt64(active, int64(st.Active))
		o.ObserveInt64(queued, int64(st.Queued))
		o.ObserveInt64(rejected, st.Rejected)
		return nil
	}, workers, active, queued, rejected)
}
