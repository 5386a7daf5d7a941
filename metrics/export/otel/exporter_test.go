package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type fakeSource struct {
	mu              sync.RWMutex
	counters        map[goIdentity.MetricID]uint64
	latency         []uint64
	latencySum      time.Duration
	auditDropped    uint64
	activityDropped uint64
}

func (f *fakeSource) MetricsSnapshot() goIdentity.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goIdentity.MetricsSnapshot{
		Counters:   make(map[goIdentity.MetricID]uint64, len(f.counters)),
		Histograms: map[goIdentity.MetricID][]uint64{goIdentity.MetricValidateLatency: append([]uint64(nil), f.latency...)},
		Sums:       map[goIdentity.MetricID]time.Duration{goIdentity.MetricValidateLatency: f.latencySum},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64    { return f.auditDropped }
func (f *fakeSource) ActivityDropped() uint64 { return f.activityDropped }

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[float64]:
				// Seconds, recorded as milliseconds.
				for _, dp := range data.DataPoints {
					out[m.Name] = int64(dp.Value * 1000)
				}
			}
		}
	}
	return out
}

func TestExporterCollectsCountersBucketsAndDrops(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("goidentity-test")

	src := &fakeSource{
		counters:        map[goIdentity.MetricID]uint64{goIdentity.MetricLoginSuccess: 3, goIdentity.MetricOTPSent: 2},
		latency:         []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		latencySum:      1500 * time.Millisecond,
		auditDropped:    1,
		activityDropped: 4,
	}
	exp, err := NewExporter(meter, src)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, exp.Close()) })

	got := collect(t, reader)
	assert.EqualValues(t, 3, got["goidentity_login_success_total"])
	assert.EqualValues(t, 2, got["goidentity_otp_sent_total"])
	assert.EqualValues(t, 1, got["goidentity_validate_latency_seconds_bucket_le_0_005"])
	assert.EqualValues(t, 8, got["goidentity_validate_latency_seconds_bucket_le_inf"])
	assert.EqualValues(t, 8, got["goidentity_validate_latency_seconds_count"])
	assert.EqualValues(t, 1500, got["goidentity_validate_latency_seconds_sum"])
	assert.EqualValues(t, 1, got["goidentity_audit_dropped_total"])
	assert.EqualValues(t, 4, got["goidentity_activity_dropped_total"])
}

func TestExporterRejectsNilArguments(t *testing.T) {
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())).Meter("goidentity-test")

	_, err := NewExporter(meter, nil)
	assert.ErrorIs(t, err, ErrNilSource)
	_, err = NewExporter(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("goidentity-test")
	src := &fakeSource{counters: map[goIdentity.MetricID]uint64{}}

	exp, err := NewExporter(meter, src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[goIdentity.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
