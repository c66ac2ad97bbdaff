// Package internal contains helper utilities that are intentionally private
// to clinicAuth, such as secure random token generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: server configuration loading (YAML file + environment)
//   - flows: pure-function orchestrators for rotation, login and OTP gating
//   - logging: slog construction and context propagation
//   - metrics: lock-free counters and the authenticate latency histogram
//   - otpsession: Redis-backed signup verification sessions
//   - rate: Redis-backed login and refresh throttles
//
// # What this package must NOT do
//
//   - Export types that appear in the public clinicAuth API.
//   - Be imported by any package outside the clinicAuth module.
package internal
