// Package otel publishes cmsauth service metrics through an OpenTelemetry
// meter.
//
// [NewExporter] creates an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket, fed by a single callback that
// reads the service snapshot on each collection. Callers own the
// MeterProvider.
package otel
