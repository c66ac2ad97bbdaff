// Package httpapi is the JSON HTTP surface over a clinicAuth.Engine.
//
// [NewRouter] mounts /patient, /doctor and /admin on a chi router. Bodies are
// decoded and validated with validator/v10; failures come back as
// {"errors": {field: message}} with the status chosen by [StatusFor].
// Session cookies are read and written through middleware.Cookies, so an
// access/refresh pair is always set or cleared in one response.
//
// Auth POSTs sit behind a per-IP token bucket in addition to the engine's
// Redis throttles.
package httpapi
