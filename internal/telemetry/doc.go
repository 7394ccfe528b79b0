// Package telemetry turns scheduler lifecycle events into Prometheus metrics and
// OpenTelemetry spans, and bootstraps the OTLP trace exporter.
package telemetry
