// Package internaldefs holds the metric families, label values and bucket bounds
// shared by the exporter packages, and the Source both exporters sample.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
