// Package telemetry is a set of packages for instrumenting HTTP
// services with Prometheus request metrics and OpenTelemetry tracing.
//
// The httptelemetry package times every request, builds one outcome
// record per completed request, and fans it out to pluggable metric
// handlers. The promregistry package owns the aggregated metric state
// and serves the /metrics scrape route, merging per-process shard files
// when multiprocess mode is active. The tracing package emits a server
// span per request with an allowlist of headers as span attributes.
package telemetry
