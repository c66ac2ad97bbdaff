// Package limiters provides fixed-window throttles for the unauthenticated
// endpoints that send mail: signup and password-reset requests.
//
// Each limiter counts per identifier (role + email) and, optionally, per
// client IP. All limiters are nil-safe: a nil receiver never limits.
//
// # What this package must NOT do
//
//   - Import clinicAuth or any sibling internal package.
//   - Make policy decisions beyond counting; the engine decides consequences.
package limiters
