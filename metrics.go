package goIdentity

import (
	"sort"
	"sync/atomic"
	"time"
)

// MetricID names one in-process counter.
type MetricID uint16

const (
	MetricOTPSent MetricID = iota
	MetricOTPSendRateLimited
	MetricOTPDeliveryFailed
	MetricOTPVerifySuccess
	MetricOTPVerifyFailure
	MetricOTPAttemptsExhausted
	MetricOTPInvalidated
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricPasswordRehashed
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshRateLimited
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricAccountVerified
	MetricSessionCreated
	MetricSessionClosed
	MetricSessionExpired
	MetricSessionTouchFailed
	// MetricValidateLatency is the only histogram; every ID before it is a counter.
	MetricValidateLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the finite latency buckets. One
// more bucket catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

// counter sits alone on its cache line so hot neighbours do not contend.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

type latencyHistogram struct {
	buckets [histBucketCount]atomic.Uint64
	sum     atomic.Int64
}

// Metrics is a fixed set of lock-free counters plus the token validation latency
// histogram. A nil or disabled Metrics ignores writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [MetricValidateLatency]counter
	latency       latencyHistogram
}

// MetricsSnapshot is a point-in-time copy. Histogram slices hold per-bucket counts for
// the bounds 5, 10, 25, 50, 100, 250, 500 ms and +Inf; Sums holds the total observed
// time of each histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	Sums       map[MetricID]time.Duration
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
		Sums:       map[MetricID]time.Duration{},
	}
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricValidateLatency {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d for MetricValidateLatency. Other IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricValidateLatency {
		return
	}
	m.latency.buckets[latencyBucket(d)].Add(1)
	m.latency.sum.Add(int64(d))
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricValidateLatency {
		return 0
	}
	return m.counters[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := emptySnapshot()
	if m == nil || !m.enabled {
		return s
	}
	for id := range m.counters {
		s.Counters[MetricID(id)] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency.buckets[i].Load()
		}
		s.Histograms[MetricValidateLatency] = buckets
		s.Sums[MetricValidateLatency] = time.Duration(m.latency.sum.Load())
	}
	return s
}

func latencyBucket(d time.Duration) int {
	return sort.Search(len(latencyBounds), func(i int) bool { return d <= latencyBounds[i] })
}
