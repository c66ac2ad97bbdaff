// Package otpsession keeps the server-side half of the signup OTP flow: one
// Redis hash per browser session holding the email being verified and the
// attempt and resend counters. Counter updates are single-key atomic.
//
// The OTP code itself is not stored here; it lives in the keyed store with
// its own TTL, which is the authoritative expiry.
package otpsession
