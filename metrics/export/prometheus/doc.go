// Package prometheus exposes authsession engine metrics as a prometheus.Collector.
//
// The exporter keeps its own registry so mounting Handler never pulls in the
// process-wide default collectors. Register the exporter on another registry when the
// host already serves one.
//
// # What this package must NOT do
//
//   - Register anything on prometheus.DefaultRegisterer.
//   - Record metrics itself. The engine's lock-free counters are the only source.
package prometheus
