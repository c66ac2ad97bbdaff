// Package middleware adapts clinicAuth.Engine to net/http: per-role guards,
// the admin guard, the OTP page guard, redirects for signed-in visitors, and
// the cookie helpers every handler uses to hand out tokens.
//
// # Guards
//
//   - [RequireRole] guards patient and doctor routes, rotating the refresh
//     cookie when the access token has lapsed.
//   - [RequireAdmin] guards admin routes with the admin-session cookie.
//   - [RequireOTPSession] gates the OTP entry page.
//   - [RedirectIfAuthenticated] sends signed-in visitors to their dashboard.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Write only one cookie of the access/refresh pair.
package middleware
