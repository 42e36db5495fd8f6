package internaldefs

import (
	goReset "github.com/MrEthical07/goReset"
)

// Source is what both exporters read on every collection.
type Source interface {
	MetricsSnapshot() goReset.MetricsSnapshot
	AuditDelivered() uint64
	AuditDropped() uint64
}

// Series is one labelled value inside a Family. LabelValue is empty for
// families without a label.
type Series struct {
	LabelValue string
	Value      func(Sample) uint64
}

// Family is one exported counter name. Engine counters that describe outcomes
// of the same operation share a family and differ by the Label value.
type Family struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

// Sample is one read of a Source. Reading once per collection keeps the
// series of a family consistent with each other.
type Sample struct {
	Snapshot  goReset.MetricsSnapshot
	Delivered uint64
	Dropped   uint64
}

// Read takes a Sample from src.
func Read(src Source) Sample {
	return Sample{
		Snapshot:  src.MetricsSnapshot(),
		Delivered: src.AuditDelivered(),
		Dropped:   src.AuditDropped(),
	}
}

// Empty reports whether the engine had metrics disabled and no audit traffic.
func (s Sample) Empty() bool {
	return len(s.Snapshot.Counters) == 0 && len(s.Snapshot.Histograms) == 0 &&
		s.Delivered == 0 && s.Dropped == 0
}

func counter(id goReset.MetricID) func(Sample) uint64 {
	return func(s Sample) uint64 { return s.Snapshot.Counters[id] }
}

// Families lists every exported counter family in a stable order.
var Families = []Family{
	{
		Name:  "goreset_request_total",
		Help:  "Password reset requests past the rate limits, by whether a PIN was issued.",
		Label: "outcome",
		Series: []Series{
			{LabelValue: "pin_issued", Value: counter(goReset.MetricPINIssued)},
			{LabelValue: "enumeration_safe", Value: counter(goReset.MetricResetRequestUnknown)},
		},
	},
	{
		Name:  "goreset_pin_verify_total",
		Help:  "Reset PIN verifications by result.",
		Label: "result",
		Series: []Series{
			{LabelValue: "success", Value: counter(goReset.MetricPINVerifySuccess)},
			{LabelValue: "invalid", Value: counter(goReset.MetricPINVerifyInvalid)},
			{LabelValue: "expired", Value: counter(goReset.MetricPINVerifyExpired)},
			{LabelValue: "exhausted", Value: counter(goReset.MetricPINAttemptsExceeded)},
			{LabelValue: "not_found", Value: counter(goReset.MetricPINVerifyNotFound)},
		},
	},
	{
		Name:  "goreset_grant_total",
		Help:  "Reset grant lifecycle events.",
		Label: "event",
		Series: []Series{
			{LabelValue: "issued", Value: counter(goReset.MetricGrantIssued)},
			{LabelValue: "consumed", Value: counter(goReset.MetricGrantConsumed)},
			{LabelValue: "rejected", Value: counter(goReset.MetricGrantInvalid)},
		},
	},
	{
		Name:  "goreset_completion_total",
		Help:  "Password replacements through reset by result.",
		Label: "result",
		Series: []Series{
			{LabelValue: "success", Value: counter(goReset.MetricResetCompleted)},
			{LabelValue: "failure", Value: counter(goReset.MetricResetFailure)},
		},
	},
	{
		Name:   "goreset_rate_limited_total",
		Help:   "Requests denied by a rate-limit policy.",
		Series: []Series{{Value: counter(goReset.MetricRateLimitHit)}},
	},
	{
		Name:   "goreset_delivery_failure_total",
		Help:   "Reset emails the mailer rejected or could not render.",
		Series: []Series{{Value: counter(goReset.MetricDeliveryFailure)}},
	},
	{
		Name:  "goreset_sweep_removed_total",
		Help:  "Entries removed by the background sweep, by job.",
		Label: "job",
		Series: []Series{
			{LabelValue: "pins", Value: counter(goReset.MetricSweepRemovedPINs)},
			{LabelValue: "rate_limits", Value: counter(goReset.MetricSweepRemovedLimiterKeys)},
		},
	},
	{
		Name:  "goreset_audit_events_total",
		Help:  "Audit events by dispatch result.",
		Label: "result",
		Series: []Series{
			{LabelValue: "delivered", Value: func(s Sample) uint64 { return s.Delivered }},
			{LabelValue: "dropped", Value: func(s Sample) uint64 { return s.Dropped }},
		},
	},
}

// VerifyLatency describes the PIN verification latency histogram.
var VerifyLatency = struct {
	ID   goReset.MetricID
	Name string
	Help string
}{
	ID:   goReset.MetricVerifyLatency,
	Name: "goreset_verify_latency_seconds",
	Help: "PIN verification latency.",
}

// HistogramBounds are the upper bounds of the engine buckets in seconds.
var HistogramBounds = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// CumulativeBuckets turns raw per-bucket counts into running totals, treating
// missing buckets as zero.
func CumulativeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
