// Package observability provides an OpenTelemetry metrics extension for
// the automation runtime. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for run starts, completions,
// failures, step failures, and dead letter entries, plus a run duration
// histogram.
//
// For per-action tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
