// Package prometheus renders goReset metrics in Prometheus text exposition format.
//
// [NewPrometheusExporter] accepts a [goReset.Engine] and exposes an [http.Handler].
// Outcomes of one operation share a family and are split by label, e.g.
//
//	goreset_pin_verify_total{result="expired"} 3
//	goreset_sweep_removed_total{job="rate_limits"} 12
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
