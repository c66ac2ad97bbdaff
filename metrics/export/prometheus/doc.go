// Package prometheus exposes engine counters through a client_golang
// Collector.
//
// [NewCollector] reads a fresh [clinicAuth.MetricsSnapshot] on every scrape.
// Counter names are prefixed clinicauth_ and end in _total; the guard latency
// histogram is clinicauth_authenticate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global default registry. Callers pick the registry.
//   - Mutate engine state.
package prometheus
