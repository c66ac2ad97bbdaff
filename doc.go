// Package clinicAuth is the session core shared by the patient, doctor and
// admin surfaces of the clinic platform.
//
// It issues short-lived access tokens and rotating refresh tokens tracked in
// a ledger, detects refresh-token replay and revokes the whole family when it
// happens, keeps every role on its own token surface, and runs the OTP
// signup verification flow. Engine methods are safe to call from multiple
// goroutines once [Builder.Build] returns.
//
// # Architecture boundaries
//
// clinicAuth is the public surface: [Engine], [Builder], [Config] and the
// value types. Flow orchestration, throttles, OTP session storage and audit
// dispatch live under internal/. HTTP concerns live in middleware and
// httpapi, which depend on this package and never the other way round.
//
// # What this package must NOT do
//
//   - Expose Redis clients or store encodings in its public API.
//   - Block a request on mail delivery.
//   - Import any sub-package that re-imports clinicAuth.
//
// # Performance contract
//
// Authenticate with a valid access token costs one account lookup and no
// Redis round-trip. A refresh costs one ledger read and one atomic rotate.
package clinicAuth
