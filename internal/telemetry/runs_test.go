package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Gauge[int64]:
				require.Len(t, data.DataPoints, 1)
				out[m.Name] = data.DataPoints[0].Value
			case metricdata.Sum[int64]:
				require.Len(t, data.DataPoints, 1)
				assert.True(t, data.IsMonotonic, m.Name)
				out[m.Name] = data.DataPoints[0].Value
			}
		}
	}
	return out
}

func TestObserveRuns(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	st := RunStats{Workers: 2, Active: 1, Queued: 3}
	reg, err := ObserveRuns(mp.Meter("test"), func() RunStats { return st })
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{
		"agentrelay.runs.workers":  2,
		"agentrelay.runs.active":   1,
		"agentrelay.runs.queued":   3,
		"agentrelay.runs.rejected": 0,
	}, collect(t, reader))

	// 每次采集都重新取快照
	st = RunStats{Workers: 4, Active: 4, Queued: 0, Rejected: 5}
	got := collect(t, reader)
	assert.Equal(t, int64(4), got["agentrelay.runs.active"])
	assert.Equal(t, int64(5), got["agentrelay.runs.rejected"])

	require.NoError(t, reg.Unregister())
}

func TestObserveRuns_NoopMeter(t *testing.T) {
	var p *Providers
	reg, err := ObserveRuns(p.Meter(), func() RunStats { return RunStats{} })
	require.NoError(t, err)
	assert.NoError(t, reg.Unregister())
}
