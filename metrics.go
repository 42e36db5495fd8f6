package goReset

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricResetRequest counts accepted reset requests, known account or not.
	MetricResetRequest MetricID = iota
	// MetricResetRequestUnknown counts requests answered on the enumeration-safe path.
	MetricResetRequestUnknown
	// MetricPINIssued counts stored PINs.
	MetricPINIssued
	// MetricPINVerifySuccess counts PINs that verified.
	MetricPINVerifySuccess
	// MetricPINVerifyInvalid counts mismatched or malformed PINs.
	MetricPINVerifyInvalid
	// MetricPINVerifyExpired counts PINs submitted after expiry.
	MetricPINVerifyExpired
	// MetricPINVerifyNotFound counts verifications with no live record.
	MetricPINVerifyNotFound
	// MetricPINAttemptsExceeded counts records removed by the attempt budget.
	MetricPINAttemptsExceeded
	// MetricRateLimitHit counts limiter denials.
	MetricRateLimitHit
	// MetricDeliveryFailure counts PIN emails that could not be handed to the mailer.
	MetricDeliveryFailure
	// MetricGrantIssued counts reset grants issued.
	MetricGrantIssued
	// MetricGrantConsumed counts grants redeemed for a password change.
	MetricGrantConsumed
	// MetricGrantInvalid counts rejected grants.
	MetricGrantInvalid
	// MetricResetCompleted counts successful password replacements.
	MetricResetCompleted
	// MetricResetFailure counts failed completions.
	MetricResetFailure
	// MetricSweepRemovedPINs counts expired PIN records removed by the sweep.
	MetricSweepRemovedPINs
	// MetricSweepRemovedLimiterKeys counts idle limiter keys removed by the sweep.
	MetricSweepRemovedLimiterKeys
	// MetricVerifyLatency is the PIN verification latency histogram.
	MetricVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed table of lock-free counters plus the verify latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a counter table. A disabled table ignores every update.
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

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram of id. Only MetricVerifyLatency has a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricVerifyLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Histograms are included only when latency is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}

	return s
}

// Bucket upper bounds: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
