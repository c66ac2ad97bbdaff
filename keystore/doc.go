// Package keystore is the ephemeral keyed store behind OTP codes and
// password-reset tokens: string values with a per-key TTL, where absence on
// read is the only expiry signal callers rely on.
package keystore
