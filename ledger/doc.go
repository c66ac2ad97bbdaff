// Package ledger persists refresh-token records and enforces single-use
// rotation.
//
// Every issued refresh token belongs to a family. Rotating a token marks it
// used and records its successor in one atomic step; presenting a used token
// again is reuse, and callers respond by revoking the whole family.
//
// Tokens are never stored in the clear: records are keyed by the SHA-256 of
// the token string.
package ledger
