// Package otel publishes authsession engine metrics through OpenTelemetry observable
// instruments.
//
// The exporter registers one callback on the supplied meter. Each collection reads a
// single MetricsSnapshot, so all instruments in one collection are consistent.
//
// # What this package must NOT do
//
//   - Create a MeterProvider. The caller owns the provider and its readers.
//   - Record metrics itself. The engine's lock-free counters are the only source.
package otel
