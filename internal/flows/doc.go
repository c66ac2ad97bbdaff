// Package flows contains pure-function orchestrators for the Engine's
// security-critical operations.
//
// Each flow function (RunRotate, RunLogin, RunOTPGate, ...) accepts a typed
// dependency struct and returns a result carrying a failure kind. The root
// package maps failure kinds to its public errors, metrics and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the refresh ledger, token issuer and
// rate limiter. They do NOT own any of these resources; ownership stays with
// the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency fields.
package flows
