package goIdentity

import (
	"testing"
	"time"
)

func BenchmarkMetricsInc(b *testing.B) {
	for _, enabled := range []bool{true, false} {
		name := "enabled"
		if !enabled {
			name = "disabled"
		}
		b.Run(name, func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: enabled})
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					m.Inc(MetricOTPSent)
				}
			})
		})
	}
}

// The request hot path touches a handful of neighbouring counters.
var hotMetricIDs = [...]MetricID{
	MetricOTPSent,
	MetricOTPVerifySuccess,
	MetricLoginSuccess,
	MetricSessionCreated,
	MetricRefreshSuccess,
	MetricSessionClosed,
}

func BenchmarkMetricsIncMixedParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(hotMetricIDs[idx])
			idx = (idx + 1) % len(hotMetricIDs)
		}
	})
}

func BenchmarkMetricsObserveLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricValidateLatency, 12*time.Millisecond)
		}
	})
}
