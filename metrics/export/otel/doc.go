// Package otel binds goReset metrics to OpenTelemetry observable instruments.
//
// Each metric family becomes one Int64ObservableCounter whose outcomes are told
// apart by an attribute (result, job, outcome, event). The verify latency
// histogram is reported as an Int64ObservableGauge carrying an "le" attribute per
// bucket plus a count gauge. One callback samples the engine per collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
