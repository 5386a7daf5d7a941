// Package otel publishes goIdentity engine metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter, one gauge per
// cumulative latency bucket, and counters for dropped audit events and dropped
// activity touches. A single callback reads Engine.MetricsSnapshot on each collection.
// The caller owns the MeterProvider.
package otel
